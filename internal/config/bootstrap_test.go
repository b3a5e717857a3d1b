package config

import (
	"context"
	"errors"
	"strings"
	"testing"

	sinksocket "github.com/eugener/sinksocket/internal"
	"github.com/eugener/sinksocket/internal/storage/sqlite"
	"github.com/eugener/sinksocket/internal/testutil"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	path := t.TempDir() + "/test.db"
	s, err := sqlite.New(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBootstrap(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	cfg := &Config{
		Streams: []StreamEntry{
			{
				StreamID: "rx",
				Subsize:  64,
				Keywords: []KeywordEntry{{ID: "COL_RF", Type: "double", Value: 2.4e9}},
			},
			{StreamID: "tx", Blocking: true},
		},
	}

	// First call seeds everything.
	if err := Bootstrap(ctx, cfg, store); err != nil {
		t.Fatal("bootstrap:", err)
	}

	rx, err := store.GetSRI(ctx, "rx")
	if err != nil {
		t.Fatal("get sri:", err)
	}
	if rx.Subsize != 64 || len(rx.Keywords) != 1 {
		t.Errorf("rx = %+v", rx)
	}

	// A descriptor changed at runtime must survive a second bootstrap.
	rx.Subsize = 128
	if err := store.SaveSRI(ctx, rx); err != nil {
		t.Fatal(err)
	}

	// Second call is idempotent -- no errors, no duplicates.
	if err := Bootstrap(ctx, cfg, store); err != nil {
		t.Fatal("idempotent bootstrap:", err)
	}

	all, err := store.ListSRIs(ctx)
	if err != nil {
		t.Fatal("list sris:", err)
	}
	if len(all) != 2 {
		t.Errorf("sri count after second bootstrap = %d, want 2", len(all))
	}
	got, err := store.GetSRI(ctx, "rx")
	if err != nil {
		t.Fatal(err)
	}
	if got.Subsize != 128 {
		t.Errorf("rx subsize = %d, want runtime value 128", got.Subsize)
	}
}

type failingSRIStore struct {
	*testutil.FakeStore
	err error
}

func (s failingSRIStore) GetSRI(context.Context, string) (sinksocket.StreamSRI, error) {
	return sinksocket.StreamSRI{}, s.err
}

func TestBootstrapLookupError(t *testing.T) {
	t.Parallel()

	boom := errors.New("disk on fire")
	store := failingSRIStore{FakeStore: testutil.NewFakeStore(), err: boom}
	cfg := &Config{Streams: []StreamEntry{{StreamID: "rx"}}}

	err := Bootstrap(context.Background(), cfg, store)
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want %v", err, boom)
	}
	if all, _ := store.ListSRIs(context.Background()); len(all) != 0 {
		t.Errorf("stored %d descriptors after lookup failure, want 0", len(all))
	}
}

func TestBootstrapInvalidStream(t *testing.T) {
	t.Parallel()

	store := testutil.NewFakeStore()
	cfg := &Config{Streams: []StreamEntry{{StreamID: "rx", Keywords: []KeywordEntry{{ID: "", Type: "long", Value: 1}}}}}

	if err := Bootstrap(context.Background(), cfg, store); !errors.Is(err, sinksocket.ErrBadRequest) {
		t.Fatalf("error = %v, want ErrBadRequest", err)
	}
}

func TestGenerateAdminKey(t *testing.T) {
	t.Parallel()

	a, b := GenerateAdminKey(), GenerateAdminKey()
	if !strings.HasPrefix(a, AdminKeyPrefix) {
		t.Errorf("key %q missing prefix %q", a, AdminKeyPrefix)
	}
	if a == b {
		t.Error("two generated keys are equal")
	}
}
