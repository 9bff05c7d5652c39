package presence

import (
	"fmt"
	"reflect"
	"sync"
	"testing"
)

func TestRegistry_MultiDevice(t *testing.T) {
	r := NewRegistry()
	r.Connect("c1")
	r.Connect("c2")
	r.Connect("c3")
	r.Identify("c1", "u1")
	r.Identify("c2", "u1")
	r.Identify("c3", "u2")

	if got, want := r.ConnectionsForUser("u1"), []string{"c1", "c2"}; !reflect.DeepEqual(got, want) {
		t.Errorf("ConnectionsForUser(u1) = %v, want %v", got, want)
	}
	if got, want := r.OnlineUsers(), []string{"u1", "u2"}; !reflect.DeepEqual(got, want) {
		t.Errorf("OnlineUsers() = %v, want %v", got, want)
	}
	if got := r.Stats(); got != (Stats{Connections: 3, Users: 2}) {
		t.Errorf("Stats() = %+v", got)
	}

	r.Disconnect("c1")
	if got, want := r.ConnectionsForUser("u1"), []string{"c2"}; !reflect.DeepEqual(got, want) {
		t.Errorf("ConnectionsForUser(u1) after disconnect = %v, want %v", got, want)
	}
	r.Disconnect("c2")
	if got := r.ConnectionsForUser("u1"); len(got) != 0 {
		t.Errorf("ConnectionsForUser(u1) = %v, want none", got)
	}
	if got, want := r.OnlineUsers(), []string{"u2"}; !reflect.DeepEqual(got, want) {
		t.Errorf("OnlineUsers() = %v, want %v", got, want)
	}
}

func TestRegistry_Idempotence(t *testing.T) {
	r := NewRegistry()
	r.Connect("c1")
	r.Identify("c1", "u1")
	r.Identify("c1", "u1")
	r.Joined("c1", "r1")
	r.Connect("c1")

	if got := r.Rooms("c1"); !reflect.DeepEqual(got, []string{"r1"}) {
		t.Errorf("Connect() reset existing state, Rooms = %v", got)
	}
	if got := r.ConnectionsForUser("u1"); !reflect.DeepEqual(got, []string{"c1"}) {
		t.Errorf("ConnectionsForUser(u1) = %v", got)
	}

	if got := r.Disconnect("c1"); !reflect.DeepEqual(got, []string{"r1"}) {
		t.Errorf("Disconnect() = %v, want [r1]", got)
	}
	if got := r.Disconnect("c1"); got != nil {
		t.Errorf("second Disconnect() = %v, want nil", got)
	}
}

func TestRegistry_Reidentify(t *testing.T) {
	r := NewRegistry()
	r.Connect("c1")
	r.Identify("c1", "u1")
	r.Identify("c1", "u2")

	if got := r.ConnectionsForUser("u1"); len(got) != 0 {
		t.Errorf("ConnectionsForUser(u1) = %v, want none", got)
	}
	if got := r.UserFor("c1"); got != "u2" {
		t.Errorf("UserFor(c1) = %q, want u2", got)
	}
}

func TestRegistry_UnknownIDs(t *testing.T) {
	r := NewRegistry()
	r.Identify("ghost", "u1")
	r.Left("ghost", "r1")
	if r.Joined("ghost", "r1") {
		t.Error("Joined() on unknown connection = true")
	}
	if got := r.UserFor("ghost"); got != "" {
		t.Errorf("UserFor(ghost) = %q", got)
	}
	if got := r.Rooms("ghost"); got != nil {
		t.Errorf("Rooms(ghost) = %v", got)
	}
	if got := r.ConnectionsForUser("u1"); len(got) != 0 {
		t.Errorf("Identify on unknown connection indexed it: %v", got)
	}
}

func TestRegistry_RoomTracking(t *testing.T) {
	r := NewRegistry()
	r.Connect("c1")
	r.Joined("c1", "r2")
	r.Joined("c1", "r1")
	r.Joined("c1", "r1")
	if got, want := r.Rooms("c1"), []string{"r1", "r2"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Rooms(c1) = %v, want %v", got, want)
	}
	r.Left("c1", "r2")
	if got, want := r.Rooms("c1"), []string{"r1"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Rooms(c1) = %v, want %v", got, want)
	}
}

func TestRegistry_Concurrent(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := fmt.Sprintf("c%d", i)
			r.Connect(conn)
			r.Identify(conn, fmt.Sprintf("u%d", i%5))
			r.Joined(conn, "lobby")
			_ = r.ConnectionsForUser("u0")
			if i%2 == 0 {
				r.Disconnect(conn)
			}
		}(i)
	}
	wg.Wait()
	if got := r.Stats(); got.Connections != 25 || got.Users != 5 {
		t.Errorf("Stats() = %+v, want 25 connections across 5 users", got)
	}
}
