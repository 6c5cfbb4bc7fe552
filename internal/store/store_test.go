/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/Seednode/estimate/internal/store"
)

func openSQLite(t *testing.T) store.Store {
	t.Helper()

	s, err := store.OpenSQLite(store.SQLiteConfig{
		Path:     filepath.Join(t.TempDir(), "test.db"),
		PoolSize: 2,
	})
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	return s
}

// eachStore runs fn against every Store implementation.
func eachStore(t *testing.T, fn func(t *testing.T, s store.Store)) {
	t.Helper()

	t.Run("memory", func(t *testing.T) {
		fn(t, store.NewMemory())
	})
	t.Run("sqlite", func(t *testing.T) {
		fn(t, openSQLite(t))
	})
}

func tx(t *testing.T, s store.Store, fn func(r store.Records) error) {
	t.Helper()

	if err := s.Tx(context.Background(), fn); err != nil {
		t.Fatalf("Tx: %v", err)
	}
}

func ptr[T any](v T) *T {
	return &v
}

var created = time.Unix(1700000000, 0)

func seedRoom(t *testing.T, s store.Store, code string) {
	t.Helper()

	tx(t, s, func(r store.Records) error {
		return r.CreateRoom(store.Room{
			Code:      code,
			Name:      "Sprint 12",
			CardSet:   []string{"1", "2", "3", "5", "8", "?"},
			CreatedAt: created,
		})
	})
}

func TestRoomRoundTrip(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		seedRoom(t, s, "ABC12")

		var room store.Room
		tx(t, s, func(r store.Records) error {
			var err error
			room, err = r.GetRoom("ABC12")

			return err
		})

		if room.Name != "Sprint 12" {
			t.Errorf("Name = %q, want %q", room.Name, "Sprint 12")
		}
		if !slices.Equal(room.CardSet, []string{"1", "2", "3", "5", "8", "?"}) {
			t.Errorf("CardSet = %v", room.CardSet)
		}
		if room.CurrentTaskID != "" || room.IsRevealed || room.AnonymousVotes {
			t.Errorf("unexpected defaults: %+v", room)
		}
		if !room.CreatedAt.Equal(created) {
			t.Errorf("CreatedAt = %v, want %v", room.CreatedAt, created)
		}
	})
}

func TestListRoomCodes(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		tx(t, s, func(r store.Records) error {
			codes, err := r.ListRoomCodes()
			if err != nil {
				return err
			}
			if len(codes) != 0 {
				t.Errorf("empty store lists %v", codes)
			}

			for i, code := range []string{"ZZZ99", "AAA11", "MMM55"} {
				err := r.CreateRoom(store.Room{
					Code:      code,
					Name:      code,
					CreatedAt: created.Add(time.Duration(i) * time.Minute),
				})
				if err != nil {
					return err
				}
			}

			return r.DeleteRoom("AAA11")
		})

		var codes []string
		tx(t, s, func(r store.Records) error {
			var err error
			codes, err = r.ListRoomCodes()

			return err
		})

		if want := []string{"ZZZ99", "MMM55"}; !slices.Equal(codes, want) {
			t.Errorf("ListRoomCodes = %v, want %v", codes, want)
		}
	})
}

func TestCreateRoomConflict(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		seedRoom(t, s, "ABC12")

		err := s.Tx(context.Background(), func(r store.Records) error {
			return r.CreateRoom(store.Room{Code: "ABC12", Name: "again", CreatedAt: created})
		})
		if !errors.Is(err, store.ErrConflict) {
			t.Fatalf("CreateRoom duplicate: err = %v, want ErrConflict", err)
		}
	})
}

func TestGetRoomNotFound(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		err := s.Tx(context.Background(), func(r store.Records) error {
			_, err := r.GetRoom("NOPE1")

			return err
		})
		if !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("GetRoom: err = %v, want ErrNotFound", err)
		}
	})
}

func TestUpdateRoomPatch(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		seedRoom(t, s, "ABC12")

		tx(t, s, func(r store.Records) error {
			return r.UpdateRoom("ABC12", store.RoomPatch{
				CurrentTaskID: ptr("task-1"),
				IsRevealed:    ptr(true),
			})
		})

		tx(t, s, func(r store.Records) error {
			return r.UpdateRoom("ABC12", store.RoomPatch{
				AnonymousVotes: ptr(true),
				CardSet:        []string{"S", "M", "L"},
			})
		})

		var room store.Room
		tx(t, s, func(r store.Records) error {
			var err error
			room, err = r.GetRoom("ABC12")

			return err
		})

		if room.CurrentTaskID != "task-1" || !room.IsRevealed || !room.AnonymousVotes {
			t.Errorf("patch not applied: %+v", room)
		}
		if !slices.Equal(room.CardSet, []string{"S", "M", "L"}) {
			t.Errorf("CardSet = %v", room.CardSet)
		}

		tx(t, s, func(r store.Records) error {
			return r.UpdateRoom("ABC12", store.RoomPatch{CurrentTaskID: ptr("")})
		})

		tx(t, s, func(r store.Records) error {
			var err error
			room, err = r.GetRoom("ABC12")

			return err
		})

		if room.CurrentTaskID != "" {
			t.Errorf("CurrentTaskID = %q, want cleared", room.CurrentTaskID)
		}
	})
}

func TestParticipantsKeepJoinOrder(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		seedRoom(t, s, "ABC12")

		names := []string{"alice", "bob", "carol", "dave"}

		tx(t, s, func(r store.Records) error {
			for i, name := range names {
				err := r.CreateParticipant(store.Participant{
					ID:           "p-" + name,
					ConnectionID: "c-" + name,
					RoomCode:     "ABC12",
					Name:         name,
					Role:         "participant",
					JoinedAt:     created.Add(time.Duration(i) * time.Second),
				})
				if err != nil {
					return err
				}
			}

			return nil
		})

		var got []store.Participant
		tx(t, s, func(r store.Records) error {
			var err error
			got, err = r.ListParticipants("ABC12")

			return err
		})

		if len(got) != len(names) {
			t.Fatalf("len = %d, want %d", len(got), len(names))
		}
		for i, p := range got {
			if p.Name != names[i] {
				t.Errorf("participant %d = %q, want %q", i, p.Name, names[i])
			}
		}
	})
}

func TestCreateParticipantRequiresRoom(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		err := s.Tx(context.Background(), func(r store.Records) error {
			return r.CreateParticipant(store.Participant{ID: "p1", RoomCode: "NOPE1", JoinedAt: created})
		})
		if !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	})
}

func TestParticipantCurrentEstimate(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		seedRoom(t, s, "ABC12")

		tx(t, s, func(r store.Records) error {
			if err := r.CreateParticipant(store.Participant{
				ID: "p1", ConnectionID: "c1", RoomCode: "ABC12", Name: "alice", Role: "manager", Mode: "participant", JoinedAt: created,
			}); err != nil {
				return err
			}

			p, err := r.GetParticipantByConnection("c1")
			if err != nil {
				return err
			}

			p.CurrentEstimate = ptr("5")

			return r.UpdateParticipant(p)
		})

		var p store.Participant
		tx(t, s, func(r store.Records) error {
			var err error
			p, err = r.GetParticipantByConnection("c1")

			return err
		})

		if p.CurrentEstimate == nil || *p.CurrentEstimate != "5" {
			t.Fatalf("CurrentEstimate = %v, want 5", p.CurrentEstimate)
		}
		if p.Mode != "participant" {
			t.Errorf("Mode = %q, want participant", p.Mode)
		}

		tx(t, s, func(r store.Records) error {
			return r.ClearCurrentEstimates("ABC12")
		})

		tx(t, s, func(r store.Records) error {
			var err error
			p, err = r.GetParticipantByConnection("c1")

			return err
		})

		if p.CurrentEstimate != nil {
			t.Errorf("CurrentEstimate = %q, want nil", *p.CurrentEstimate)
		}
	})
}

func TestTaskNullableFields(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		seedRoom(t, s, "ABC12")

		tx(t, s, func(r store.Records) error {
			if err := r.CreateTask(store.Task{ID: "t1", RoomCode: "ABC12", Title: "Login", CreatedAt: created}); err != nil {
				return err
			}

			return r.CreateTask(store.Task{
				ID: "t2", RoomCode: "ABC12", Title: "Logout", Description: ptr(""), FinalEstimate: ptr("?"), CreatedAt: created,
			})
		})

		var tasks []store.Task
		tx(t, s, func(r store.Records) error {
			var err error
			tasks, err = r.ListTasks("ABC12")

			return err
		})

		if len(tasks) != 2 {
			t.Fatalf("len = %d, want 2", len(tasks))
		}
		if tasks[0].Description != nil || tasks[0].FinalEstimate != nil {
			t.Errorf("task t1 nullable fields = %v, %v, want nil", tasks[0].Description, tasks[0].FinalEstimate)
		}
		if tasks[1].Description == nil || *tasks[1].Description != "" {
			t.Errorf("task t2 description = %v, want empty string", tasks[1].Description)
		}
		if tasks[1].FinalEstimate == nil || *tasks[1].FinalEstimate != "?" {
			t.Errorf("task t2 final estimate = %v, want ?", tasks[1].FinalEstimate)
		}

		tasks[0].FinalEstimate = ptr("8")
		tx(t, s, func(r store.Records) error {
			return r.UpdateTask(tasks[0])
		})

		tx(t, s, func(r store.Records) error {
			var err error
			tasks, err = r.ListTasks("ABC12")

			return err
		})

		if tasks[0].FinalEstimate == nil || *tasks[0].FinalEstimate != "8" {
			t.Errorf("final estimate = %v, want 8", tasks[0].FinalEstimate)
		}
	})
}

func TestEstimatesUpsertAndDelete(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		seedRoom(t, s, "ABC12")

		tx(t, s, func(r store.Records) error {
			for _, id := range []string{"t1", "t2"} {
				if err := r.CreateTask(store.Task{ID: id, RoomCode: "ABC12", Title: id, CreatedAt: created}); err != nil {
					return err
				}
			}

			for _, e := range []store.Estimate{
				{TaskID: "t1", ParticipantID: "p1", Estimate: "3"},
				{TaskID: "t1", ParticipantID: "p2", Estimate: "5"},
				{TaskID: "t2", ParticipantID: "p1", Estimate: "8"},
				{TaskID: "t1", ParticipantID: "p1", Estimate: "13"},
			} {
				if err := r.UpsertEstimate(e); err != nil {
					return err
				}
			}

			return nil
		})

		list := func() []store.Estimate {
			var out []store.Estimate
			tx(t, s, func(r store.Records) error {
				var err error
				out, err = r.ListEstimates("ABC12")

				return err
			})

			return out
		}

		got := list()
		if len(got) != 3 {
			t.Fatalf("len = %d, want 3 (upsert must replace)", len(got))
		}
		for _, e := range got {
			if e.TaskID == "t1" && e.ParticipantID == "p1" && e.Estimate != "13" {
				t.Errorf("t1/p1 = %q, want 13", e.Estimate)
			}
		}

		tx(t, s, func(r store.Records) error {
			return r.DeleteParticipantEstimates("p1")
		})

		got = list()
		if len(got) != 1 || got[0].ParticipantID != "p2" {
			t.Fatalf("after participant cascade: %+v", got)
		}

		err := s.Tx(context.Background(), func(r store.Records) error {
			return r.DeleteEstimate("t1", "p1")
		})
		if !errors.Is(err, store.ErrNotFound) {
			t.Errorf("DeleteEstimate missing: err = %v, want ErrNotFound", err)
		}

		tx(t, s, func(r store.Records) error {
			return r.DeleteTaskEstimates("t1")
		})

		if got = list(); len(got) != 0 {
			t.Errorf("after task cascade: %+v", got)
		}
	})
}

func TestDeleteRoomCascades(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		seedRoom(t, s, "ABC12")
		seedRoom(t, s, "XYZ99")

		tx(t, s, func(r store.Records) error {
			for _, code := range []string{"ABC12", "XYZ99"} {
				if err := r.CreateParticipant(store.Participant{
					ID: "p-" + code, ConnectionID: "c-" + code, RoomCode: code, Name: "n", Role: "manager", JoinedAt: created,
				}); err != nil {
					return err
				}
				if err := r.CreateTask(store.Task{ID: "t-" + code, RoomCode: code, Title: "t", CreatedAt: created}); err != nil {
					return err
				}
				if err := r.UpsertEstimate(store.Estimate{TaskID: "t-" + code, ParticipantID: "p-" + code, Estimate: "1"}); err != nil {
					return err
				}
			}

			return nil
		})

		tx(t, s, func(r store.Records) error {
			return r.DeleteRoom("ABC12")
		})

		tx(t, s, func(r store.Records) error {
			if _, err := r.GetRoom("ABC12"); !errors.Is(err, store.ErrNotFound) {
				t.Errorf("GetRoom after delete: err = %v", err)
			}

			ps, err := r.ListParticipants("ABC12")
			if err != nil {
				return err
			}
			if len(ps) != 0 {
				t.Errorf("participants left behind: %+v", ps)
			}

			es, err := r.ListEstimates("XYZ99")
			if err != nil {
				return err
			}
			if len(es) != 1 {
				t.Errorf("other room estimates = %d, want 1", len(es))
			}

			if _, err := r.GetParticipantByConnection("c-ABC12"); !errors.Is(err, store.ErrNotFound) {
				t.Errorf("participant lookup after delete: err = %v", err)
			}

			return nil
		})
	})
}

func TestTxRollsBackOnError(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		seedRoom(t, s, "ABC12")

		boom := errors.New("boom")

		err := s.Tx(context.Background(), func(r store.Records) error {
			if err := r.CreateTask(store.Task{ID: "t1", RoomCode: "ABC12", Title: "x", CreatedAt: created}); err != nil {
				return err
			}
			if err := r.UpdateRoom("ABC12", store.RoomPatch{CurrentTaskID: ptr("t1")}); err != nil {
				return err
			}

			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("Tx: err = %v, want boom", err)
		}

		tx(t, s, func(r store.Records) error {
			tasks, err := r.ListTasks("ABC12")
			if err != nil {
				return err
			}
			if len(tasks) != 0 {
				t.Errorf("tasks = %+v, want rolled back", tasks)
			}

			room, err := r.GetRoom("ABC12")
			if err != nil {
				return err
			}
			if room.CurrentTaskID != "" {
				t.Errorf("CurrentTaskID = %q, want rolled back", room.CurrentTaskID)
			}

			return nil
		})
	})
}

func TestSQLiteInMemory(t *testing.T) {
	s, err := store.OpenSQLite(store.SQLiteConfig{Path: ":memory:", PoolSize: 8})
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer s.Close()

	seedRoom(t, s, "MEM01")

	tx(t, s, func(r store.Records) error {
		_, err := r.GetRoom("MEM01")

		return err
	})
}

func TestSQLiteKeepsRowsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rooms.db")

	s, err := store.OpenSQLite(store.SQLiteConfig{Path: path, PoolSize: 2})
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}

	seedRoom(t, s, "KEEP1")
	tx(t, s, func(r store.Records) error {
		return r.CreateParticipant(store.Participant{
			ID:           "p1",
			ConnectionID: "c1",
			RoomCode:     "KEEP1",
			Name:         "Maria",
			Role:         "manager",
			Mode:         "participant",
			JoinedAt:     created,
		})
	})

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err = store.OpenSQLite(store.SQLiteConfig{Path: path, PoolSize: 2})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	tx(t, s, func(r store.Records) error {
		codes, err := r.ListRoomCodes()
		if err != nil {
			return err
		}
		if !slices.Equal(codes, []string{"KEEP1"}) {
			t.Errorf("ListRoomCodes = %v, want [KEEP1]", codes)
		}

		p, err := r.GetParticipantByConnection("c1")
		if err != nil {
			return err
		}
		if p.ID != "p1" || p.Role != "manager" {
			t.Errorf("participant = %+v", p)
		}

		return r.DeleteRoom("KEEP1")
	})

	tx(t, s, func(r store.Records) error {
		if _, err := r.GetRoom("KEEP1"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("GetRoom after delete: err = %v, want ErrNotFound", err)
		}

		return nil
	})
}

func TestOpenSQLiteRequiresPath(t *testing.T) {
	if _, err := store.OpenSQLite(store.SQLiteConfig{}); err == nil {
		t.Fatal("OpenSQLite with empty path: expected error")
	}
}
