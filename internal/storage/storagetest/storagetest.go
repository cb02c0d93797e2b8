// Package storagetest holds the behavior every storage.Provider must share.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/julianstephens/guardian/internal/storage"
)

// Run exercises p, which must be initialized and empty.
func Run(t *testing.T, p storage.Provider) {
	t.Helper()
	ctx := context.Background()

	t.Run("get missing", func(t *testing.T) {
		_, err := p.Get(ctx, "nobody", "profile")
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("Get() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("put get overwrite", func(t *testing.T) {
		if err := p.Put(ctx, "u1", "profile", []byte(`{"v":1}`)); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		if err := p.Put(ctx, "u1", "profile", []byte(`{"v":2}`)); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		got, err := p.Get(ctx, "u1", "profile")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if string(got) != `{"v":2}` {
			t.Errorf("Get() = %s, want overwritten value", got)
		}
	})

	t.Run("users are isolated", func(t *testing.T) {
		if err := p.Put(ctx, "u2", "profile", []byte("other")); err != nil {
			t.Fatal(err)
		}
		got, err := p.Get(ctx, "u1", "profile")
		if err != nil {
			t.Fatal(err)
		}
		if string(got) == "other" {
			t.Error("u2 write leaked into u1")
		}
	})

	t.Run("query prefix", func(t *testing.T) {
		for _, k := range []string{"session/record/b", "session/record/a", "session/active", "session_record/x"} {
			if err := p.Put(ctx, "u3", k, []byte(k)); err != nil {
				t.Fatal(err)
			}
		}
		entries, err := p.Query(ctx, "u3", "session/record/")
		if err != nil {
			t.Fatalf("Query() error = %v", err)
		}
		if len(entries) != 2 {
			t.Fatalf("Query() returned %d entries, want 2: %+v", len(entries), entries)
		}
		if entries[0].Key != "session/record/a" || entries[1].Key != "session/record/b" {
			t.Errorf("Query() order = %s, %s", entries[0].Key, entries[1].Key)
		}
		if string(entries[0].Value) != "session/record/a" {
			t.Errorf("Query() value = %s", entries[0].Value)
		}
	})

	t.Run("query treats wildcards literally", func(t *testing.T) {
		if err := p.Put(ctx, "u4", "a%b", []byte("1")); err != nil {
			t.Fatal(err)
		}
		if err := p.Put(ctx, "u4", "axb", []byte("2")); err != nil {
			t.Fatal(err)
		}
		entries, err := p.Query(ctx, "u4", "a%")
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 1 || entries[0].Key != "a%b" {
			t.Errorf("Query(a%%) = %+v, want only a%%b", entries)
		}
	})

	t.Run("delete", func(t *testing.T) {
		if err := p.Put(ctx, "u5", "session/active", []byte("s1")); err != nil {
			t.Fatal(err)
		}
		if err := p.Delete(ctx, "u5", "session/active"); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if _, err := p.Get(ctx, "u5", "session/active"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("Get() after Delete error = %v, want ErrNotFound", err)
		}
		if err := p.Delete(ctx, "u5", "never-written"); err != nil {
			t.Errorf("Delete() of missing key error = %v", err)
		}
	})

	t.Run("users", func(t *testing.T) {
		users, err := p.Users(ctx)
		if err != nil {
			t.Fatalf("Users() error = %v", err)
		}
		seen := map[string]bool{}
		for _, u := range users {
			seen[u] = true
		}
		for _, want := range []string{"u1", "u2", "u3"} {
			if !seen[want] {
				t.Errorf("Users() missing %s: %v", want, users)
			}
		}
	})

	t.Run("concurrent puts", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				key := fmt.Sprintf("mood/%02d", i)
				if err := p.Put(ctx, "u6", key, []byte(key)); err != nil {
					t.Errorf("Put(%s) error = %v", key, err)
				}
			}(i)
		}
		wg.Wait()
		entries, err := p.Query(ctx, "u6", "mood/")
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 8 {
			t.Errorf("Query() after concurrent puts = %d entries, want 8", len(entries))
		}
	})
}
