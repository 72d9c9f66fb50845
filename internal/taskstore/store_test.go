package taskstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/any-hub/audiohub/internal/model"
)

func TestStoresRoundTripTaskList(t *testing.T) {
	for _, kind := range []string{"json", "sqlite"} {
		t.Run(kind, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "state", "tasks."+kind)
			store, err := Open(kind, path)
			if err != nil {
				t.Fatalf("open %s: %v", kind, err)
			}
			defer store.Close()

			tasks, err := store.Load(context.Background())
			if err != nil {
				t.Fatalf("load empty: %v", err)
			}
			if len(tasks) != 0 {
				t.Fatalf("expected empty task list, got %+v", tasks)
			}

			now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
			want := []model.Task{
				model.NewTask(model.Descriptor{BookID: "b1", ChapterID: "c2", Title: "Two"}, 2, now),
				model.NewTask(model.Descriptor{BookID: "b1", ChapterID: "c1", Title: "One"}, 1, now),
			}
			want[1].Status = model.TaskStatusFailed
			want[1].Error = "boom"

			if err := store.Save(context.Background(), want); err != nil {
				t.Fatalf("save: %v", err)
			}
			// 覆盖写入只保留最后一次结果。
			want[0].Progress = 40
			if err := store.Save(context.Background(), want); err != nil {
				t.Fatalf("second save: %v", err)
			}

			got, err := store.Load(context.Background())
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if len(got) != 2 || got[0].ID != "c2" || got[0].Progress != 40 || got[1].Error != "boom" || got[1].Seq != 1 {
				t.Fatalf("unexpected tasks: %+v", got)
			}
			if !got[0].Timestamp.Equal(now) {
				t.Fatalf("timestamp mismatch: %v", got[0].Timestamp)
			}
		})
	}
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.db")
	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	task := model.NewTask(model.Descriptor{BookID: "b", ChapterID: "c"}, 7, time.Now())
	task.Status = model.TaskStatusDownloading
	if err := store.Save(context.Background(), []model.Task{task}); err != nil {
		t.Fatalf("save: %v", err)
	}
	store.Close()

	reopened, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	got, err := reopened.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 1 || got[0].Status != model.TaskStatusDownloading || got[0].Seq != 7 {
		t.Fatalf("unexpected tasks after reopen: %+v", got)
	}
}

func TestJSONStoreLeavesNoTempFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.json")
	store, err := NewJSONStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.Save(context.Background(), nil); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp snapshot should be renamed away: %v", err)
	}
	body, err := os.ReadFile(path)
	if err != nil || string(body) != "[]" {
		t.Fatalf("empty list should be persisted as []: %q %v", body, err)
	}
}

func TestJSONStoreRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.json")
	if err := os.WriteFile(path, []byte("{not-json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	store, err := NewJSONStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := store.Load(context.Background()); err == nil {
		t.Fatalf("expected decode error for corrupt file")
	}
}

func TestOpenRejectsUnknownKind(t *testing.T) {
	if _, err := Open("redis", filepath.Join(t.TempDir(), "x")); err == nil {
		t.Fatalf("expected error for unknown store kind")
	}
}
