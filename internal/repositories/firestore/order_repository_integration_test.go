//go:build integration

package firestore_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"testing"
	"time"

	domain "github.com/fitmart/api/internal/domain"
	pconfig "github.com/fitmart/api/internal/platform/config"
	pfirestore "github.com/fitmart/api/internal/platform/firestore"
	"github.com/fitmart/api/internal/repositories"
	firestorerepo "github.com/fitmart/api/internal/repositories/firestore"
)

const firestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"

func TestOrderRepositoryLifecycleIntegration(t *testing.T) {
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}

	ensureDockerDaemon(t)

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	containerID := startFirestoreEmulator(t, port)
	defer stopContainer(containerID)

	waitForEndpoint(t, endpoint, 30*time.Second)

	cfg := pconfig.FirestoreConfig{
		ProjectID:    "test-project",
		EmulatorHost: endpoint,
	}

	provider := pfirestore.NewProvider(cfg)
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	registry, err := firestorerepo.NewRegistry(provider)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	orders := registry.Orders()
	products := registry.Products()

	client, err := provider.Client(ctx)
	if err != nil {
		t.Fatalf("firestore client: %v", err)
	}

	seedProduct := func(id string, stock int) {
		t.Helper()
		_, err := client.Collection("products").Doc(id).Set(ctx, map[string]any{
			"title":      "Product " + id,
			"category":   "weights",
			"price":      int64(65000),
			"totalStock": stock,
			"createdAt":  time.Now().UTC(),
			"updatedAt":  time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("seed product %s: %v", id, err)
		}
	}
	stockOf := func(id string) int {
		t.Helper()
		product, err := products.FindByID(ctx, id)
		if err != nil {
			t.Fatalf("load product %s: %v", id, err)
		}
		return product.StockQuantity
	}

	now := time.Date(2025, 5, 1, 9, 30, 0, 0, time.UTC)
	address := domain.Address{
		AddressLine: "Baluwatar 4",
		City:        "Kathmandu",
		Pincode:     "44600",
		Phone:       "9800000000",
		Country:     domain.DefaultCountry,
	}

	t.Run("PlaceWithStockDecrementsAndConsumesCart", func(t *testing.T) {
		seedProduct("prd_plate", 10)
		seedProduct("prd_rope", 5)
		if _, err := client.Collection("carts").Doc("crt_place").Set(ctx, map[string]any{
			"userRef": "usr_place",
		}); err != nil {
			t.Fatalf("seed cart: %v", err)
		}

		order := domain.Order{
			ID:     "ord_place",
			UserID: "usr_place",
			Items: []domain.OrderItem{
				{ProductID: "prd_plate", Title: "Plate", UnitPrice: 65000, Quantity: 2},
				{ProductID: "prd_rope", Title: "Rope", UnitPrice: 15000, Quantity: 1},
			},
			Address:       address,
			Status:        domain.OrderStatusPending,
			PaymentMethod: domain.PaymentMethodCOD,
			PaymentStatus: domain.PaymentStatusPending,
			TotalAmount:   2*65000 + 15000,
			CreatedAt:     now,
			UpdatedAt:     now,
		}

		placed, err := orders.PlaceWithStock(ctx, repositories.PlaceOrderRequest{
			Order:  order,
			CartID: "crt_place",
			Now:    now,
		})
		if err != nil {
			t.Fatalf("place with stock: %v", err)
		}
		if !placed.StockAdjusted {
			t.Fatalf("expected placed order marked stock adjusted")
		}
		if got := stockOf("prd_plate"); got != 8 {
			t.Fatalf("expected plate stock 8, got %d", got)
		}
		if got := stockOf("prd_rope"); got != 4 {
			t.Fatalf("expected rope stock 4, got %d", got)
		}
		if snap, err := client.Collection("carts").Doc("crt_place").Get(ctx); err == nil && snap.Exists() {
			t.Fatalf("expected cart consumed")
		}
	})

	t.Run("PlaceWithStockNeverOversells", func(t *testing.T) {
		seedProduct("prd_bench", 3)
		seedProduct("prd_band", 1)

		order := domain.Order{
			ID:     "ord_oversell",
			UserID: "usr_oversell",
			Items: []domain.OrderItem{
				{ProductID: "prd_bench", Title: "Bench", UnitPrice: 200000, Quantity: 2},
				{ProductID: "prd_band", Title: "Band", UnitPrice: 5000, Quantity: 2},
			},
			Address:       address,
			Status:        domain.OrderStatusPending,
			PaymentMethod: domain.PaymentMethodCOD,
			PaymentStatus: domain.PaymentStatusPending,
			TotalAmount:   2*200000 + 2*5000,
			CreatedAt:     now,
			UpdatedAt:     now,
		}

		_, err := orders.PlaceWithStock(ctx, repositories.PlaceOrderRequest{Order: order, Now: now})
		var stockErr *repositories.StockError
		if !errors.As(err, &stockErr) || stockErr.Code != repositories.StockErrorInsufficient {
			t.Fatalf("expected insufficient stock error, got %v", err)
		}
		// The sufficient line must not be decremented when a later line fails.
		if got := stockOf("prd_bench"); got != 3 {
			t.Fatalf("expected bench stock untouched at 3, got %d", got)
		}
		if got := stockOf("prd_band"); got != 1 {
			t.Fatalf("expected band stock untouched at 1, got %d", got)
		}
		if _, err := orders.FindByID(ctx, "ord_oversell"); err == nil {
			t.Fatalf("expected no order document after aborted placement")
		}
	})

	t.Run("CancelTransitionReleasesMultiItemStock", func(t *testing.T) {
		seedProduct("prd_rack", 4)
		seedProduct("prd_bar", 6)

		order := domain.Order{
			ID:     "ord_release",
			UserID: "usr_release",
			Items: []domain.OrderItem{
				{ProductID: "prd_rack", Title: "Rack", UnitPrice: 900000, Quantity: 1},
				{ProductID: "prd_bar", Title: "Bar", UnitPrice: 250000, Quantity: 2},
			},
			Address:       address,
			Status:        domain.OrderStatusPending,
			PaymentMethod: domain.PaymentMethodCOD,
			PaymentStatus: domain.PaymentStatusPending,
			TotalAmount:   900000 + 2*250000,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if _, err := orders.PlaceWithStock(ctx, repositories.PlaceOrderRequest{Order: order, Now: now}); err != nil {
			t.Fatalf("place with stock: %v", err)
		}
		if got := stockOf("prd_rack"); got != 3 {
			t.Fatalf("expected rack stock 3 after placement, got %d", got)
		}

		cancelled, err := orders.ApplyTransition(ctx, repositories.OrderTransition{
			OrderID:      "ord_release",
			From:         []domain.OrderStatus{domain.OrderStatusPending},
			To:           domain.OrderStatusCancelled,
			TriggeredBy:  domain.TriggeredByCustomer,
			ReleaseStock: true,
			Now:          now.Add(time.Hour),
		})
		if err != nil {
			t.Fatalf("cancel transition: %v", err)
		}
		if cancelled.Status != domain.OrderStatusCancelled {
			t.Fatalf("expected cancelled status, got %s", cancelled.Status)
		}
		if cancelled.StockAdjusted {
			t.Fatalf("expected stock release recorded on the order")
		}
		if cancelled.CancelledAt == nil {
			t.Fatalf("expected cancelledAt stamp")
		}
		if got := stockOf("prd_rack"); got != 4 {
			t.Fatalf("expected rack stock restored to 4, got %d", got)
		}
		if got := stockOf("prd_bar"); got != 6 {
			t.Fatalf("expected bar stock restored to 6, got %d", got)
		}
	})

	t.Run("CompletePaymentIsIdempotent", func(t *testing.T) {
		seedProduct("prd_mat", 9)

		order := domain.Order{
			ID:     "ord_wallet",
			UserID: "usr_wallet",
			Items: []domain.OrderItem{
				{ProductID: "prd_mat", Title: "Mat", UnitPrice: 30000, Quantity: 3},
			},
			Address:       address,
			Status:        domain.OrderStatusPending,
			PaymentMethod: domain.PaymentMethodWallet,
			PaymentStatus: domain.PaymentStatusPending,
			PaymentRef:    "pidx_initial",
			TotalAmount:   3 * 30000,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := orders.Insert(ctx, order); err != nil {
			t.Fatalf("insert wallet order: %v", err)
		}

		settled, applied, err := orders.CompletePayment(ctx, repositories.PaymentCompletion{
			OrderID:    "ord_wallet",
			PaymentRef: "pidx_settled",
			Now:        now.Add(time.Minute),
		})
		if err != nil {
			t.Fatalf("complete payment: %v", err)
		}
		if !applied {
			t.Fatalf("expected first completion to apply")
		}
		if settled.Status != domain.OrderStatusConfirmed || settled.PaymentStatus != domain.PaymentStatusCompleted {
			t.Fatalf("unexpected settled state %s/%s", settled.Status, settled.PaymentStatus)
		}
		if settled.PaymentRef != "pidx_settled" {
			t.Fatalf("expected payment ref updated, got %q", settled.PaymentRef)
		}
		if !settled.IsPaid || settled.PaidAt == nil {
			t.Fatalf("expected paid markers set")
		}
		if got := stockOf("prd_mat"); got != 6 {
			t.Fatalf("expected mat stock 6 after settlement, got %d", got)
		}

		replayed, applied, err := orders.CompletePayment(ctx, repositories.PaymentCompletion{
			OrderID:    "ord_wallet",
			PaymentRef: "pidx_settled",
			Now:        now.Add(2 * time.Minute),
		})
		if err != nil {
			t.Fatalf("replay complete payment: %v", err)
		}
		if applied {
			t.Fatalf("expected replay to report applied=false")
		}
		if replayed.PaidAt == nil || !replayed.PaidAt.Equal(*settled.PaidAt) {
			t.Fatalf("expected replay to leave the settlement timestamp alone")
		}
		// Stock must decrement exactly once no matter how often the callback
		// fires.
		if got := stockOf("prd_mat"); got != 6 {
			t.Fatalf("expected mat stock still 6 after replay, got %d", got)
		}
	})

	t.Run("AdjustStockIsAllOrNothing", func(t *testing.T) {
		seedProduct("prd_rower", 2)
		seedProduct("prd_chalk", 5)

		err := products.AdjustStock(ctx, []domain.StockAdjustment{
			{ProductID: "prd_chalk", Delta: -2},
			{ProductID: "prd_rower", Delta: -3},
		})
		var stockErr *repositories.StockError
		if !errors.As(err, &stockErr) || stockErr.Code != repositories.StockErrorInsufficient {
			t.Fatalf("expected insufficient stock error, got %v", err)
		}
		if got := stockOf("prd_chalk"); got != 5 {
			t.Fatalf("expected chalk stock untouched at 5, got %d", got)
		}

		if err := products.AdjustStock(ctx, []domain.StockAdjustment{
			{ProductID: "prd_chalk", Delta: -2},
			{ProductID: "prd_rower", Delta: 1},
		}); err != nil {
			t.Fatalf("adjust stock: %v", err)
		}
		if got := stockOf("prd_chalk"); got != 3 {
			t.Fatalf("expected chalk stock 3, got %d", got)
		}
		if got := stockOf("prd_rower"); got != 3 {
			t.Fatalf("expected rower stock 3, got %d", got)
		}
	})
}

func freePort(t *testing.T) int {
	t.Helper()
	addr, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to allocate port: %v", err)
	}
	defer addr.Close()
	return addr.Addr().(*net.TCPAddr).Port
}

func startFirestoreEmulator(t *testing.T, port int) string {
	t.Helper()
	args := []string{
		"run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		firestoreEmulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080",
		"--quiet",
	}

	cmd := exec.Command("docker", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("failed to start firestore emulator: %v - %s", err, string(out))
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		t.Fatalf("docker returned empty container id")
	}
	// Shorten the ID to match docker CLI behaviour for stop/remove commands.
	if len(id) > 12 {
		id = id[:12]
	}
	return id
}

func stopContainer(id string) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "docker", "stop", id)
	_ = cmd.Run()
}

func waitForEndpoint(t *testing.T, endpoint string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		lastErr = err
		time.Sleep(250 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = errors.New("timeout waiting for endpoint")
	}
	t.Fatalf("emulator did not become ready: %v", lastErr)
}

func ensureDockerDaemon(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "docker", "info")
	if err := cmd.Run(); err != nil {
		t.Skip("docker daemon unavailable: " + err.Error())
	}
}
