package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"
)

func TestInMemoryLedger_RecordAndList(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		_, err := l.Record(ctx, Entry{
			Identity:    "+1",
			Kind:        KindMint,
			Amount:      big.NewInt(int64(i) * 1_000_000),
			OperationID: fmt.Sprintf("0x%02d", i),
			Status:      StatusConfirmed,
		})
		if err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	if _, err := l.Record(ctx, Entry{Identity: "+2", Kind: KindTransfer, Amount: big.NewInt(1), Status: StatusFailed}); err != nil {
		t.Fatalf("record other identity: %v", err)
	}

	entries, err := l.ListByIdentity(ctx, "+1", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].OperationID != "0x03" || entries[1].OperationID != "0x02" {
		t.Fatalf("expected newest first, got %s %s", entries[0].OperationID, entries[1].OperationID)
	}
	if entries[0].ID == "" || entries[0].CreatedAt.IsZero() {
		t.Fatalf("expected id and timestamp to be assigned")
	}
}

func TestInMemoryLedger_DuplicateOperation(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	entry := Entry{Identity: "+1", Kind: KindMint, Amount: big.NewInt(10), OperationID: "0xabc", Status: StatusConfirmed}

	if _, err := l.Record(ctx, entry); err != nil {
		t.Fatalf("initial record failed: %v", err)
	}
	if _, err := l.Record(ctx, entry); err != ErrDuplicateOperation {
		t.Fatalf("expected duplicate error, got %v", err)
	}

	failed := Entry{Identity: "+1", Kind: KindMint, Amount: big.NewInt(10), Status: StatusFailed}
	if _, err := l.Record(ctx, failed); err != nil {
		t.Fatalf("failed entries without operation id must not collide: %v", err)
	}
	if _, err := l.Record(ctx, failed); err != nil {
		t.Fatalf("failed entries without operation id must not collide: %v", err)
	}
}

func TestInMemoryLedger_RejectsInvalidEntries(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	cases := []Entry{
		{Kind: KindMint, Amount: big.NewInt(1)},
		{Identity: "+1", Amount: big.NewInt(1)},
		{Identity: "+1", Kind: KindMint},
		{Identity: "+1", Kind: KindMint, Amount: big.NewInt(0)},
	}
	for i, c := range cases {
		if _, err := l.Record(ctx, c); err != ErrInvalidEntry {
			t.Fatalf("case %d: expected ErrInvalidEntry, got %v", i, err)
		}
	}
}

func TestInMemoryLedger_ConcurrentRecords(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()

	const workers = 10
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entry := Entry{Identity: "+1", Kind: KindTransfer, Amount: big.NewInt(500), OperationID: fmt.Sprintf("op-%d", i)}
			if _, err := l.Record(ctx, entry); err != nil {
				t.Errorf("record %d failed: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if got := len(Entries(l)); got != workers {
		t.Fatalf("expected %d entries, got %d", workers, got)
	}
}
