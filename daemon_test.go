package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/any-hub/audiohub/internal/config"
	"github.com/any-hub/audiohub/internal/logging"
	"github.com/any-hub/audiohub/internal/model"
)

func TestDaemonDownloadsManifestChapters(t *testing.T) {
	upstream := newBookServer(t, "tok")
	for _, mode := range []string{"generic", "native"} {
		t.Run(mode, func(t *testing.T) {
			storage := t.TempDir()
			d := newTestDaemon(t, upstream.URL, storage, mode, "sqlite")

			manifestPath := filepath.Join(t.TempDir(), "books.yaml")
			writeFile(t, manifestPath, `
books:
  - book_id: b1
    title: Book
    cover_url: /covers/b1.jpg
    chapters:
      - id: c1
      - id: c2
`)
			added, err := d.EnqueueManifest(manifestPath)
			if err != nil || added != 2 {
				t.Fatalf("enqueue manifest: added=%d err=%v", added, err)
			}
			d.queue.Wait()
			d.downloader.WaitEvictions()

			for _, task := range d.queue.Tasks() {
				if task.Status != model.TaskStatusCompleted {
					t.Fatalf("task %s not completed: %+v", task.ID, task)
				}
			}
			body, err := os.ReadFile(filepath.Join(storage, config.MediaCacheDirName, "c2.mp3"))
			if err != nil || !bytes.Equal(body, chapterBody("c2")) {
				t.Fatalf("cached chapter mismatch: %v", err)
			}

			_, coverErr := os.Stat(filepath.Join(storage, config.CoverDirName, "b1.jpg"))
			if mode == "native" && coverErr != nil {
				t.Fatalf("native transfer should store the cover: %v", coverErr)
			}
			if mode == "generic" && !os.IsNotExist(coverErr) {
				t.Fatalf("generic transfer must not store covers: %v", coverErr)
			}
		})
	}
}

func TestDaemonRecoversQueueAcrossRestart(t *testing.T) {
	upstream := newBookServer(t, "tok")
	storage := t.TempDir()

	stale := model.NewTask(model.Descriptor{BookID: "b1", ChapterID: "c9"}, 1, time.Now())
	stale.Status = model.TaskStatusDownloading
	writeFile(t, filepath.Join(storage, "tasks.json"), mustJSON(t, []model.Task{stale}))

	d := newTestDaemon(t, upstream.URL, storage, "generic", "json")
	d.queue.Wait()

	task, err := d.queue.Task("c9")
	if err != nil || task.Status != model.TaskStatusCompleted {
		t.Fatalf("interrupted task should be resumed and completed: %+v %v", task, err)
	}
}

func TestDaemonMediaRouteServesDownloadedChapter(t *testing.T) {
	upstream := newBookServer(t, "tok")
	storage := t.TempDir()
	d := newTestDaemon(t, upstream.URL, storage, "generic", "json")

	req := httptest.NewRequest("POST", "/api/tasks", strings.NewReader(`{"bookId":"b1","chapterId":"c3"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	resp.Body.Close()
	d.queue.Wait()

	resp, err = d.app.Test(httptest.NewRequest("GET", "/media/c3", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected cached chapter, got %d", resp.StatusCode)
	}
}

func TestDaemonFailsOnBadToken(t *testing.T) {
	upstream := newBookServer(t, "expected")
	d := newTestDaemon(t, upstream.URL, t.TempDir(), "generic", "json")

	if err := d.queue.AddTask(model.Descriptor{ChapterID: "c1"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	d.queue.Wait()
	task, _ := d.queue.Task("c1")
	if task.Status != model.TaskStatusFailed || !strings.Contains(task.Error, "401") {
		t.Fatalf("expected failed task with 401, got %+v", task)
	}
	if strings.Contains(task.Error, "token=tok") {
		t.Fatalf("token leaked into task error: %s", task.Error)
	}
}

func newTestDaemon(t *testing.T, serverURL, storage, mode, store string) *daemon {
	t.Helper()
	cfg := &config.Config{
		Global: config.GlobalConfig{
			ListenPort:         5080,
			StoragePath:        storage,
			CacheMaxSize:       config.ByteSize(1 << 20),
			CacheMaxFiles:      10,
			LargeFileThreshold: config.ByteSize(1024),
			ChunkSize:          config.ByteSize(512),
			UpstreamTimeout:    config.Duration(5 * time.Second),
			TransferMode:       mode,
			TaskStore:          store,
		},
		Server: config.ServerConfig{URL: serverURL, Token: "tok"},
	}
	d, err := newDaemon(cfg, logging.Discard())
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	t.Cleanup(func() {
		d.queue.Wait()
		d.Close()
	})
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	return d
}

// newBookServer 模拟有声书服务端：/stream/<id> 校验 token 并支持 Range，/covers/ 返回封面。
func newBookServer(t *testing.T, token string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/stream/"):
			if r.URL.Query().Get("token") != token {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			id := strings.TrimPrefix(r.URL.Path, "/stream/")
			body := chapterBody(id)
			http.ServeContent(w, r, id+".mp3", time.Time{}, bytes.NewReader(body))
		case strings.HasPrefix(r.URL.Path, "/covers/"):
			w.Write([]byte("jpeg"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// chapterBody 生成 3000 字节的章节内容，超过测试阈值以覆盖分块下载。
func chapterBody(id string) []byte {
	return bytes.Repeat([]byte(fmt.Sprintf("%s-", id)), 1000)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(strings.TrimSpace(content)), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(data)
}
