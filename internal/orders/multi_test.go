package orders

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-mm/pkg/types"
)

func TestMultiManagerDefaultBrokerSelection(t *testing.T) {
	t.Parallel()

	mm := NewMulti(testLogger())
	mm.AddBroker("primary", newFakeBroker(), false)
	mm.AddBroker("secondary", newFakeBroker(), false)

	id, err := mm.SubmitOrder(baseOrder(), "")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	manager, ok := mm.GetManager("primary")
	if !ok {
		t.Fatal("expected primary manager")
	}
	if _, tracked := manager.GetOrder(id); !tracked {
		t.Fatal("expected order routed to the first-added (default) broker")
	}
}

func TestMultiManagerExplicitSetAsDefault(t *testing.T) {
	t.Parallel()

	mm := NewMulti(testLogger())
	mm.AddBroker("primary", newFakeBroker(), false)
	mm.AddBroker("secondary", newFakeBroker(), true)

	id, err := mm.SubmitOrder(baseOrder(), "")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	manager, _ := mm.GetManager("secondary")
	if _, tracked := manager.GetOrder(id); !tracked {
		t.Fatal("expected order routed to the explicitly-set default broker")
	}
}

func TestMultiManagerUnknownBroker(t *testing.T) {
	t.Parallel()

	mm := NewMulti(testLogger())
	mm.AddBroker("primary", newFakeBroker(), false)

	if _, err := mm.SubmitOrder(baseOrder(), "ghost"); err == nil {
		t.Fatal("expected error for unknown broker")
	}
}

func TestMultiManagerCombinedStatistics(t *testing.T) {
	t.Parallel()

	mm := NewMulti(testLogger())
	mm.AddBroker("primary", newFakeBroker(), false)
	mm.AddBroker("secondary", newFakeBroker(), false)

	id1, _ := mm.SubmitOrder(baseOrder(), "primary")
	_, _ = mm.SubmitOrder(baseOrder(), "secondary")

	manager, _ := mm.GetManager("primary")
	manager.ProcessFill(types.Fill{OrderID: id1, Quantity: decimal.NewFromInt(100), Price: decimal.NewFromFloat(150), Timestamp: time.Now()})

	combined := mm.GetCombinedStatistics()
	if combined.OrdersSubmitted != 2 {
		t.Fatalf("got %d submitted, want 2", combined.OrdersSubmitted)
	}
	if combined.OrdersFilled != 1 {
		t.Fatalf("got %d filled, want 1", combined.OrdersFilled)
	}
}

func TestMultiManagerGetAllOpenOrders(t *testing.T) {
	t.Parallel()

	mm := NewMulti(testLogger())
	mm.AddBroker("primary", newFakeBroker(), false)
	mm.SubmitOrder(baseOrder(), "primary")

	all := mm.GetAllOpenOrders()
	if len(all["primary"]) != 1 {
		t.Fatalf("got %d open orders for primary, want 1", len(all["primary"]))
	}
}
