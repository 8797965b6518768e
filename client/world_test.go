package client

import (
	"reflect"
	"sort"
	"testing"
)

func sortedSnapshot(w *WorldState) []Player {
	snap := w.Snapshot()
	sort.Slice(snap, func(i, j int) bool { return snap[i].Username < snap[j].Username })
	return snap
}

// 任意 joined/update/left 序列下，同名玩家在表中至多一条
func TestWorldNeverHoldsDuplicateUsernames(t *testing.T) {
	w := NewWorldState("alice", "r1")
	w.ApplyPlayerJoined("bob", 1, 1)
	w.ApplyPlayerJoined("bob", 2, 2)
	w.ApplyPlayerUpdate("bob", 3, 3, 90, 1)
	w.ApplyPlayerJoined("carol", 4, 4)
	w.ApplyPlayerLeft("bob")
	w.ApplyPlayerJoined("bob", 5, 5)
	w.ApplyPlayerUpdate("carol", 6, 6, 80, 2)

	seen := map[string]int{}
	for _, p := range w.Snapshot() {
		seen[p.Username]++
	}
	for name, n := range seen {
		if n != 1 {
			t.Fatalf("player %s appears %d times", name, n)
		}
	}
	if w.Len() != 2 {
		t.Fatalf("Len = %d, want 2", w.Len())
	}
}

func TestWorldJoinedOverwritesByArrivalOrder(t *testing.T) {
	w := NewWorldState("alice", "r1")
	w.ApplyPlayerUpdate("bob", 3, 3, 50, 7)
	// 没有顺序号：后到的 player_joined 直接覆盖，属性回到缺省
	w.ApplyPlayerJoined("bob", 1, 1)
	p, _ := w.Get("bob")
	if p.X != 1 || p.Health != defaultHealth || p.Resources != defaultResources {
		t.Fatalf("unexpected bob: %+v", p)
	}
}

func TestGameStateIsIdempotentReplacing(t *testing.T) {
	w := NewWorldState("alice", "r1")
	w.ApplyPlayerJoined("ghost", 9, 9)

	snap := []Player{
		{Username: "alice", X: 1, Y: 2, Health: 100, Resources: 0, Room: "r1"},
		{Username: "bob", X: 3, Y: 4, Health: 80, Resources: 5, Room: "r1"},
	}
	w.ApplyGameState(snap)
	first := sortedSnapshot(w)
	w.ApplyGameState(snap)
	second := sortedSnapshot(w)

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("replay diverged:\n%v\n%v", first, second)
	}
	if len(first) != 2 {
		t.Fatalf("want 2 players, got %v", first)
	}
	if _, ok := w.Get("ghost"); ok {
		t.Fatal("full replace must drop players missing from the snapshot")
	}
}

func TestOptimisticMoveThenAuthoritativeOverwrite(t *testing.T) {
	w := NewWorldState("alice", "r1")
	w.ApplyGameState([]Player{{Username: "alice", X: 0, Y: 0, Health: 100, Room: "r1"}})

	// 本地先动，零感知延迟
	w.ApplyOptimisticMove(5, 6)
	if self := w.Self(); self.X != 5 || self.Y != 6 {
		t.Fatalf("optimistic move not applied: %+v", self)
	}

	// 权威确认直接覆盖推测值（last-write-wins，无回滚）
	w.ApplyPlayerUpdate("alice", 2, 3, 95, 1)
	if self := w.Self(); self.X != 2 || self.Y != 3 || self.Health != 95 {
		t.Fatalf("authoritative update lost: %+v", self)
	}
}

func TestSelfPointsIntoTable(t *testing.T) {
	w := NewWorldState("alice", "r1")
	w.ApplyPlayerJoined("alice", 1, 1)
	p, _ := w.Get("alice")
	if w.Self() != p {
		t.Fatal("self must reference the table entry, not a copy")
	}
}

func TestPlayerLeftThenRejoinIsFreshEntity(t *testing.T) {
	w := NewWorldState("alice", "r1")
	w.ApplyPlayerUpdate("bob", 3, 3, 10, 9)
	w.ApplyPlayerLeft("bob")
	if _, ok := w.Get("bob"); ok {
		t.Fatal("bob should be gone")
	}
	w.ApplyPlayerJoined("bob", 0, 0)
	p, _ := w.Get("bob")
	if p.Health != defaultHealth || p.Resources != defaultResources {
		t.Fatalf("rejoin must be a fresh record: %+v", p)
	}
}

func TestWorldClampsCoordinates(t *testing.T) {
	w := NewWorldState("alice", "r1")
	w.ApplyPlayerJoined("bob", -5, GridSize+10)
	p, _ := w.Get("bob")
	if p.X != 0 || p.Y != GridSize-1 {
		t.Fatalf("clamp failed: %+v", p)
	}
}
