package subscribe

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"calimport/internal/model"
)

func TestWatcherRunOnce(t *testing.T) {
	ts := httptest.NewServer(&etagServer{})
	defer ts.Close()

	var imported []string
	w := &Watcher{
		Fetcher: NewFetcher(t.TempDir()),
		Sources: []Source{{ID: "team", URL: ts.URL, Format: model.FormatICal, Calendar: "work"}},
		Import: func(ctx context.Context, src Source, res *FetchResult) (*model.Result, error) {
			imported = append(imported, src.ID)
			return &model.Result{}, nil
		},
	}
	ctx := context.Background()

	if err := w.RunOnce(ctx); err != nil {
		t.Fatal(err)
	}
	if err := w.RunOnce(ctx); err != nil {
		t.Fatal(err)
	}
	if len(imported) != 1 {
		t.Fatalf("imports=%v, want one (second fetch is unchanged)", imported)
	}

	w.Force = true
	if err := w.RunOnce(ctx); err != nil {
		t.Fatal(err)
	}
	if len(imported) != 2 {
		t.Errorf("imports=%v, want two with Force", imported)
	}
}

func TestWatcherRunOnceErrors(t *testing.T) {
	ok := httptest.NewServer(&etagServer{})
	defer ok.Close()

	errImport := errors.New("import failed")
	calls := 0
	w := &Watcher{
		Fetcher: NewFetcher(t.TempDir()),
		Sources: []Source{
			{ID: "missing"},
			{ID: "ok", URL: ok.URL},
		},
		Import: func(ctx context.Context, src Source, res *FetchResult) (*model.Result, error) {
			calls++
			return nil, errImport
		},
	}

	err := w.RunOnce(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, errImport) {
		t.Errorf("err=%v, want the fetch error to come first", err)
	}
	if calls != 1 {
		t.Errorf("import calls=%d, want 1", calls)
	}
	if w.LastError() != err {
		t.Errorf("LastError=%v, want %v", w.LastError(), err)
	}
}

func TestWatcherRunRejectsBadSchedule(t *testing.T) {
	w := &Watcher{Fetcher: NewFetcher(t.TempDir()), Schedule: "every now and then"}
	if err := w.Run(context.Background()); err == nil {
		t.Error("expected error for a bad schedule")
	}
}
