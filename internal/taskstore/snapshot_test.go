package taskstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
)

func seedStore(t *testing.T, clock *fakeClock) *MemoryStore {
	t.Helper()
	ctx := context.Background()
	s := NewMemoryStore(WithClock(clock.Now))
	for _, id := range []string{"t-1", "t-2", "t-3"} {
		if _, err := s.CreateTask(ctx, newTask(id, "en")); err != nil {
			t.Fatalf("CreateTask: %v", err)
		}
		clock.Advance(time.Second)
	}
	if _, err := s.TryAssign(ctx, "t-2", "s-1", time.Minute); err != nil {
		t.Fatalf("TryAssign: %v", err)
	}
	if _, err := s.TryAssign(ctx, "t-3", "s-2", time.Minute); err != nil {
		t.Fatalf("TryAssign: %v", err)
	}
	if _, err := s.Finalize(ctx, "t-3", "s-2"); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	return s
}

func TestSnapshot_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		fs   func(t *testing.T) (afero.Fs, string)
	}{
		{"memory fs", func(t *testing.T) (afero.Fs, string) {
			return afero.NewMemMapFs(), "/data"
		}},
		{"os fs", func(t *testing.T) (afero.Fs, string) {
			return afero.NewOsFs(), filepath.Join(t.TempDir(), "data")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			clock := newFakeClock()
			fs, dir := tt.fs(t)

			src := seedStore(t, clock)
			if err := src.SaveSnapshot(fs, dir); err != nil {
				t.Fatalf("SaveSnapshot: %v", err)
			}
			if ok, _ := afero.Exists(fs, filepath.Join(dir, SnapshotFileName+".tmp")); ok {
				t.Error("temp file left behind")
			}

			loaded, err := LoadSnapshot(fs, dir, WithClock(clock.Now))
			if err != nil {
				t.Fatalf("LoadSnapshot: %v", err)
			}

			want := map[string]State{"t-1": StatePending, "t-2": StateAssigned, "t-3": StateCompleted}
			for id, state := range want {
				got, err := loaded.GetTask(ctx, id)
				if err != nil {
					t.Fatalf("GetTask(%s): %v", id, err)
				}
				if got.State != state {
					t.Errorf("%s state = %s, want %s", id, got.State, state)
				}
			}
			t2, _ := loaded.GetTask(ctx, "t-2")
			if t2.AssignedTo != "s-1" || t2.ExpiresAt == nil {
				t.Errorf("assignment lost: holder=%q expires=%v", t2.AssignedTo, t2.ExpiresAt)
			}

			// Creation order survives the round trip
			page, _ := loaded.ListTasks(ctx, Filter{}, 10, "")
			if len(page.Tasks) != 3 || page.Tasks[0].ID != "t-3" || page.Tasks[2].ID != "t-1" {
				t.Errorf("order after load is wrong")
			}

			// Loaded stores keep enforcing the transition rules
			if _, err := loaded.TryAssign(ctx, "t-2", "s-9", time.Minute); err == nil {
				t.Error("TryAssign on loaded assigned task should conflict")
			}
		})
	}
}

func TestLoadSnapshot_Missing(t *testing.T) {
	s, err := LoadSnapshot(afero.NewMemMapFs(), "/nothing")
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	c, _ := s.Counts(context.Background())
	if c.Total != 0 {
		t.Errorf("Total = %d, want 0", c.Total)
	}
}

func TestLoadSnapshot_Corrupt(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/data/"+SnapshotFileName, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSnapshot(fs, "/data"); err == nil {
		t.Error("expected error for corrupt snapshot")
	}
}

func TestLoadSnapshot_NewerVersion(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/data/"+SnapshotFileName, []byte(`{"version": 99, "tasks": []}`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSnapshot(fs, "/data"); err == nil {
		t.Error("expected error for newer snapshot version")
	}
}

func TestSaveSnapshot_ReadOnlyFs(t *testing.T) {
	s := NewMemoryStore()
	ro := afero.NewReadOnlyFs(afero.NewMemMapFs())
	if err := s.SaveSnapshot(ro, "/data"); err == nil {
		t.Error("SaveSnapshot on read-only fs should fail")
	}
}
