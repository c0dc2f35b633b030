package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/TobiSchelling/ArxivHarvester/internal/arxiv"
)

func testEntry(id, title string) arxiv.Entry {
	return arxiv.Entry{
		Title:           title,
		Authors:         []string{"Ada Lovelace"},
		Summary:         "A summary.",
		Published:       "2024-01-01T00:00:00Z",
		Categories:      []string{"quant-ph"},
		DocumentID:      id,
		SourceReference: "results/test.xml",
	}
}

// runStoreContract checks the behavior every backend must share.
func runStoreContract(t *testing.T, open func(t *testing.T) Store) {
	t.Run("upsert by document id", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		first := NewRecord(testEntry("2101.00001v1", "First title"), "first text", nil, []string{"a1"})
		if err := s.Save(ctx, first); err != nil {
			t.Fatalf("first save: %v", err)
		}
		second := NewRecord(testEntry("2101.00001v1", "Second title"), "second text", []string{"img/p1_img1.png"}, []string{"b2"})
		if err := s.Save(ctx, second); err != nil {
			t.Fatalf("second save: %v", err)
		}

		n, err := s.Count(ctx)
		if err != nil {
			t.Fatalf("count: %v", err)
		}
		if n != 1 {
			t.Errorf("expected 1 record, got %d", n)
		}

		got, err := s.Get(ctx, "2101.00001v1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got == nil {
			t.Fatal("expected record")
		}
		if got.Title != "Second title" || got.FullText != "second text" {
			t.Errorf("expected second write's content, got %q / %q", got.Title, got.FullText)
		}
		if len(got.Images) != 1 || got.Keywords[0] != "b2" {
			t.Errorf("unexpected lists: images=%v keywords=%v", got.Images, got.Keywords)
		}
	})

	t.Run("records without id are always inserted", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		for i := 0; i < 2; i++ {
			if err := s.Save(ctx, NewRecord(testEntry("", "Same title"), "", nil, nil)); err != nil {
				t.Fatalf("save %d: %v", i, err)
			}
		}
		n, _ := s.Count(ctx)
		if n != 2 {
			t.Errorf("expected 2 records, got %d", n)
		}
	})

	t.Run("get missing returns nil", func(t *testing.T) {
		s := open(t)
		got, err := s.Get(context.Background(), "nope")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got != nil {
			t.Errorf("expected nil, got %+v", got)
		}
	})

	t.Run("recent is newest first", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		for i := 0; i < 3; i++ {
			rec := NewRecord(testEntry(fmt.Sprintf("id-%d", i), fmt.Sprintf("T%d", i)), "", nil, nil)
			rec.CreatedAt = base.Add(time.Duration(i) * time.Hour)
			if err := s.Save(ctx, rec); err != nil {
				t.Fatalf("save: %v", err)
			}
		}

		recs, err := s.Recent(ctx, 2)
		if err != nil {
			t.Fatalf("recent: %v", err)
		}
		if len(recs) != 2 {
			t.Fatalf("expected 2 records, got %d", len(recs))
		}
		if recs[0].Title != "T2" || recs[1].Title != "T1" {
			t.Errorf("unexpected order: %s, %s", recs[0].Title, recs[1].Title)
		}
		if !recs[0].CreatedAt.Equal(base.Add(2 * time.Hour)) {
			t.Errorf("unexpected created_at %s", recs[0].CreatedAt)
		}
	})

	t.Run("concurrent saves", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		var wg sync.WaitGroup
		errs := make(chan error, 40)
		for i := 0; i < 20; i++ {
			wg.Add(2)
			go func(i int) {
				defer wg.Done()
				errs <- s.Save(ctx, NewRecord(testEntry(fmt.Sprintf("c-%d", i%5), "shared"), "", nil, nil))
			}(i)
			go func() {
				defer wg.Done()
				errs <- s.Save(ctx, NewRecord(testEntry("", "anon"), "", nil, nil))
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Errorf("save: %v", err)
			}
		}

		n, _ := s.Count(ctx)
		if n != 25 {
			t.Errorf("expected 5 keyed + 20 anonymous records, got %d", n)
		}
	})
}
