package ringtable

import (
	"testing"

	"stormring/internal/wire"
)

func threeMembers() []wire.Tuple {
	return []wire.Tuple{
		{Name: "apple", IP: "127.0.0.1", PPort: 16001},
		{Name: "goat", IP: "127.0.0.1", PPort: 16002},
		{Name: "tree", IP: "127.0.0.1", PPort: 16003},
	}
}

func TestRightNeighborWrapsAround(t *testing.T) {
	table := New(threeMembers())
	n, err := table.RightNeighbor(2)
	if err != nil {
		t.Fatal(err)
	}
	if n.Identifier != 0 || n.Tuple.Name != "apple" {
		t.Fatalf("expected wraparound to identifier 0 (apple), got %+v", n)
	}

	n, err = table.RightNeighbor(0)
	if err != nil {
		t.Fatal(err)
	}
	if n.Identifier != 1 || n.Tuple.Name != "goat" {
		t.Fatalf("expected identifier 1 (goat), got %+v", n)
	}
}

func TestInsertExtendsRing(t *testing.T) {
	table := New(threeMembers())
	table.Insert(Member{Identifier: 3, Tuple: wire.Tuple{Name: "sky", PPort: 16004}})
	if table.Size() != 4 {
		t.Fatalf("expected size 4, got %d", table.Size())
	}
	n, err := table.RightNeighbor(3)
	if err != nil {
		t.Fatal(err)
	}
	if n.Tuple.Name != "apple" {
		t.Fatalf("expected wraparound to apple after insert, got %+v", n)
	}
}

func TestRemoveShrinksRing(t *testing.T) {
	table := New(threeMembers())
	table.Remove(1)
	if table.Size() != 2 {
		t.Fatalf("expected size 2, got %d", table.Size())
	}
	n, err := table.RightNeighbor(0)
	if err != nil {
		t.Fatal(err)
	}
	if n.Tuple.Name != "tree" {
		t.Fatalf("expected identifier 0's neighbor to become tree after removing goat, got %+v", n)
	}
}

func TestRightNeighborUnknownIdentifier(t *testing.T) {
	table := New(threeMembers())
	if _, err := table.RightNeighbor(99); err == nil {
		t.Fatal("expected error for unknown identifier")
	}
}

func TestEmptyRingRightNeighborErrors(t *testing.T) {
	table := Empty()
	if _, err := table.RightNeighbor(0); err == nil {
		t.Fatal("expected error on empty ring")
	}
}
