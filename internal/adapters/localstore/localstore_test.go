package localstore_test

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/okian/evalsync/internal/adapters/localstore"
	"github.com/okian/evalsync/internal/domain/model"
	"github.com/okian/evalsync/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

const anaJSON = `{"patientInfo":{"name":"Ana Silva","evaluationDate":"2024-03-01"},"responses":{"q1":{"score":4},"q2":3},"createdAt":"2024-03-01T10:00:00.000Z"}`

func mustSet(store localstore.Store, key, value string) {
	So(store.Set(context.Background(), key, []byte(value)), ShouldBeNil)
}

func storeContract(newStore func() localstore.Store) {
	ctx := context.Background()
	store := newStore()
	defer store.Close()

	Convey("Then keys round-trip and list in order", func() {
		mustSet(store, "b", "2")
		mustSet(store, "a", "1")
		mustSet(store, "b", "3")

		v, err := store.Get(ctx, "b")
		So(err, ShouldBeNil)
		So(string(v), ShouldEqual, "3")

		items, err := store.Items(ctx)
		So(err, ShouldBeNil)
		So(len(items), ShouldEqual, 2)
		So(items[0].Key, ShouldEqual, "a")
		So(items[1].Key, ShouldEqual, "b")
	})

	Convey("Then missing keys report ErrNotFound", func() {
		_, err := store.Get(ctx, "nope")
		So(errors.Is(err, localstore.ErrNotFound), ShouldBeTrue)
	})

	Convey("Then removed keys disappear", func() {
		mustSet(store, "k", "v")
		So(store.Remove(ctx, "k"), ShouldBeNil)
		So(store.Remove(ctx, "k"), ShouldBeNil)
		_, err := store.Get(ctx, "k")
		So(errors.Is(err, localstore.ErrNotFound), ShouldBeTrue)
	})
}

func TestStores(t *testing.T) {
	Convey("Given the in-memory store", t, func() {
		storeContract(func() localstore.Store { return localstore.NewMemoryStore() })
	})

	Convey("Given the SQLite store", t, func() {
		storeContract(func() localstore.Store {
			s, err := localstore.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "nested", "local.db"))
			So(err, ShouldBeNil)
			return s
		})
	})

	Convey("Given a SQLite file reopened", t, func() {
		ctx := context.Background()
		path := filepath.Join(t.TempDir(), "local.db")
		s, err := localstore.NewSQLiteStore(ctx, path)
		So(err, ShouldBeNil)
		So(s.Set(ctx, localstore.KeyEvaluations, []byte("[]")), ShouldBeNil)
		So(s.Close(), ShouldBeNil)

		s, err = localstore.NewSQLiteStore(ctx, path)
		So(err, ShouldBeNil)
		defer s.Close()

		Convey("Then data persists", func() {
			v, err := s.Get(ctx, localstore.KeyEvaluations)
			So(err, ShouldBeNil)
			So(string(v), ShouldEqual, "[]")
			So(s.Path(), ShouldEqual, path)
		})
	})
}

func TestScanner(t *testing.T) {
	ctx := context.Background()

	Convey("Given evaluations spread over every local layout", t, func() {
		store := localstore.NewMemoryStore()
		l := localstore.New(store)

		mustSet(store, localstore.KeyQuestionnaireData, `{
			"evaluation_2024-03-01_2": `+anaJSON+`,
			"evaluation_2024-03-05_1": {"patientInfo":{"name":"Bruno","evaluationDate":"2024-03-05"},"responses":{"q41":2}},
			"broken": {"responses":{}}
		}`)
		mustSet(store, localstore.KeyEvaluations, `[
			{"id":"legacy-1","patientInfo":{"name":"Carla"},"responses":{"q90":5},"timestamp":1709290000000},
			"not an object"
		]`)
		mustSet(store, "backup_evaluation_2024-03-01_2", anaJSON)
		mustSet(store, "patient_42", `{"name":"profile without patientInfo"}`)
		mustSet(store, "evaluation_legacy", `{"patientInfo":{"name":"Dora","evaluationDate":"2024-01-10"},"responses":{"q110":1}}`)
		mustSet(store, "backup_terapeuta_1", `{"evaluations":[]}`)
		mustSet(store, "settings", `{"theme":"dark"}`)

		entries, err := l.ReadAll(ctx)

		Convey("Then each evaluation appears once, in scan order", func() {
			So(err, ShouldBeNil)
			names := make([]string, 0, len(entries))
			for _, e := range entries {
				names = append(names, e.Record.PatientInfo.Name)
			}
			So(names, ShouldResemble, []string{"Ana Silva", "Bruno", "Carla", "Dora"})
		})

		Convey("Then entries carry their origin and address", func() {
			So(entries[0].Origin, ShouldEqual, localstore.OriginQuestionnaire)
			So(entries[0].Slot, ShouldEqual, "evaluation_2024-03-01_2")
			So(entries[0].Record.ID, ShouldEqual, "evaluation_2024-03-01_2")
			So(entries[2].Origin, ShouldEqual, localstore.OriginEvaluations)
			So(entries[2].Record.ID, ShouldEqual, "legacy-1")
			So(entries[2].Slot, ShouldEqual, "0")
			So(entries[3].Origin, ShouldEqual, localstore.OriginBackup)
			So(entries[3].Key, ShouldEqual, "evaluation_legacy")
		})
	})

	Convey("Given a store that fails", t, func() {
		l := localstore.New(failingStore{localstore.NewMemoryStore()})
		_, err := l.ReadAll(ctx)
		So(err, ShouldNotBeNil)
	})
}

func TestLocalMutations(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	Convey("Given a local store with a saved submission", t, func() {
		store := localstore.NewMemoryStore()
		l := localstore.New(store, localstore.WithClock(func() time.Time { return at }))
		rec, err := model.Parse([]byte(anaJSON))
		So(err, ShouldBeNil)
		rec.EvaluationID = "ana_silva_2024-03-01_1709287200"

		keys, err := l.SaveSubmission(ctx, rec)
		So(err, ShouldBeNil)

		Convey("Then both copies are written and scanned as one", func() {
			So(keys.Slot, ShouldEqual, "evaluation_2024-03-01_1709294400000")
			So(keys.BackupKey, ShouldEqual, "backup_evaluation_2024-03-01_1709294400000")
			_, err := store.Get(ctx, keys.BackupKey)
			So(err, ShouldBeNil)

			entries, err := l.ReadAll(ctx)
			So(err, ShouldBeNil)
			So(len(entries), ShouldEqual, 1)
		})

		Convey("When the questionnaire copy is marked as synced", func() {
			entries, _ := l.ReadAll(ctx)
			So(l.MarkSynced(ctx, entries[0], rec.EvaluationID, at), ShouldBeNil)

			Convey("Then the mark is persisted without disturbing the scan", func() {
				entries, err := l.ReadAll(ctx)
				So(err, ShouldBeNil)
				So(len(entries), ShouldEqual, 1)
				So(entries[0].Record.SyncedToRemote, ShouldBeTrue)
				So(entries[0].Record.RemoteID, ShouldEqual, rec.EvaluationID)
				So(entries[0].Record.SyncedAt.Equal(at), ShouldBeTrue)
			})
		})

		Convey("When the backup copy is marked as synced", func() {
			entry := localstore.Entry{Origin: localstore.OriginBackup, Key: keys.BackupKey}
			So(l.MarkSynced(ctx, entry, "remote-1", at), ShouldBeNil)

			raw, _ := store.Get(ctx, keys.BackupKey)
			var doc map[string]any
			So(json.Unmarshal(raw, &doc), ShouldBeNil)
			So(doc["syncedToRemote"], ShouldEqual, true)
			So(doc["remoteId"], ShouldEqual, "remote-1")
		})

		Convey("When marking an unknown slot", func() {
			err := l.MarkSynced(ctx, localstore.Entry{Origin: localstore.OriginQuestionnaire, Key: localstore.KeyQuestionnaireData, Slot: "gone"}, "x", at)
			So(errors.Is(err, localstore.ErrNotFound), ShouldBeTrue)
		})

		Convey("When the record is removed by evaluation id", func() {
			n, err := l.RemoveRecord(ctx, rec.EvaluationID)

			Convey("Then every copy is gone", func() {
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 2)
				entries, _ := l.ReadAll(ctx)
				So(entries, ShouldBeEmpty)
			})
		})

		Convey("When removing an id nothing carries", func() {
			n, err := l.RemoveRecord(ctx, "unknown")
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 0)
		})
	})

	Convey("Given records in the evaluations array", t, func() {
		store := localstore.NewMemoryStore()
		l := localstore.New(store)
		mustSet(store, localstore.KeyEvaluations, `[{"patientInfo":{"name":"A"}},{"patientInfo":{"name":"B"}}]`)

		Convey("When one is removed by its scan id", func() {
			n, err := l.RemoveRecord(ctx, "evaluations_1")
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 1)
			entries, _ := l.ReadAll(ctx)
			So(len(entries), ShouldEqual, 1)
			So(entries[0].Record.PatientInfo.Name, ShouldEqual, "A")
		})

		Convey("When an earlier record is removed after the scan", func() {
			entries, err := l.ReadAll(ctx)
			So(err, ShouldBeNil)
			So(len(entries), ShouldEqual, 2)
			b := entries[1]
			So(b.Record.PatientInfo.Name, ShouldEqual, "B")

			n, err := l.RemoveRecord(ctx, "evaluations_0")
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 1)

			Convey("Then marking the scanned entry stamps the record that moved", func() {
				So(l.MarkSynced(ctx, b, "remote-b", time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)), ShouldBeNil)
				raw, _ := store.Get(ctx, localstore.KeyEvaluations)
				var list []map[string]any
				So(json.Unmarshal(raw, &list), ShouldBeNil)
				So(len(list), ShouldEqual, 1)
				So(list[0]["remoteId"], ShouldEqual, "remote-b")
			})
		})

		Convey("When the scan index now holds a different record", func() {
			mustSet(store, localstore.KeyEvaluations, `[{"patientInfo":{"name":"A"}},{"patientInfo":{"name":"B"}},{"patientInfo":{"name":"C"}}]`)
			entries, err := l.ReadAll(ctx)
			So(err, ShouldBeNil)
			b := entries[1]
			_, err = l.RemoveRecord(ctx, "evaluations_0")
			So(err, ShouldBeNil)

			Convey("Then the record is found by content, not by index", func() {
				So(l.MarkSynced(ctx, b, "remote-b", time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)), ShouldBeNil)
				raw, _ := store.Get(ctx, localstore.KeyEvaluations)
				var list []map[string]any
				So(json.Unmarshal(raw, &list), ShouldBeNil)
				So(list[0]["remoteId"], ShouldEqual, "remote-b")
				So(list[1]["remoteId"], ShouldBeNil)
			})

			Convey("Then a record that is gone is reported", func() {
				_, err := l.RemoveRecord(ctx, "evaluations_0")
				So(err, ShouldBeNil)
				err = l.MarkSynced(ctx, b, "remote-b", time.Now())
				So(errors.Is(err, localstore.ErrNotFound), ShouldBeTrue)
			})
		})
	})

	Convey("Given records to back up", t, func() {
		store := localstore.NewMemoryStore()
		l := localstore.New(store, localstore.WithClock(func() time.Time { return at }))
		rec, _ := model.Parse([]byte(anaJSON))

		res, err := l.Backup(ctx, []model.EvaluationRecord{rec}, "manual")

		Convey("Then a therapist backup is written and not re-ingested", func() {
			So(err, ShouldBeNil)
			So(res.Key, ShouldEqual, "backup_terapeuta_1709294400000")
			So(res.Count, ShouldEqual, 1)

			raw, err := store.Get(ctx, res.Key)
			So(err, ShouldBeNil)
			var doc map[string]any
			So(json.Unmarshal(raw, &doc), ShouldBeNil)
			So(doc["backupSource"], ShouldEqual, "manual")
			So(doc["backedUpAt"], ShouldEqual, "2024-03-01T12:00:00.000Z")

			entries, _ := l.ReadAll(ctx)
			So(entries, ShouldBeEmpty)
		})
	})
}

type failingStore struct{ *localstore.MemoryStore }

func (failingStore) Items(context.Context) ([]localstore.Item, error) {
	return nil, errors.New("disk unavailable")
}
