package tracing_test

import (
	"context"
	"errors"
	"testing"

	"github.com/okian/evalsync/pkg/tracing"
	. "github.com/smartystreets/goconvey/convey"
	"go.opentelemetry.io/otel/attribute"
)

func TestTracing(t *testing.T) {
	Convey("Given a tracer provider without an exporter", t, func() {
		ctx := context.Background()
		shutdown, err := tracing.Init(ctx, tracing.WithServiceName("evalsync-test"), tracing.WithSampleRatio(1))
		So(err, ShouldBeNil)
		So(shutdown, ShouldNotBeNil)

		Convey("When a span is started and ended with an error", func() {
			spanCtx, span := tracing.Start(ctx, "sync.pending", attribute.Int("records", 2))

			Convey("Then the span is recording and valid", func() {
				So(span.SpanContext().IsValid(), ShouldBeTrue)
				So(span.IsRecording(), ShouldBeTrue)
				So(spanCtx, ShouldNotEqual, ctx)
				So(func() { tracing.End(span, errors.New("boom")) }, ShouldNotPanic)
			})
		})

		Reset(func() {
			_ = shutdown(context.Background())
		})
	})
}
