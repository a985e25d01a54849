package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/user/sunbot/internal/subscription"
)

func resolveAll(ctx context.Context, id int64) (subscription.Target, error) {
	return &countingTarget{id: id}, nil
}

func TestServiceStartAndShutdown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subscriptions.json")

	// Seed a save file through a first registry.
	seed := subscription.NewRegistry(subscription.NewFileStore(path))
	seed.Add(subscription.User, 1, &countingTarget{id: 1}, "Toulouse", "Europe/Paris")
	seed.Add(subscription.Guild, 9, &countingTarget{id: 900}, "Lyon", "Europe/Paris")
	if err := seed.Save(context.Background()); err != nil {
		t.Fatalf("seed save: %v", err)
	}

	reg := subscription.NewRegistry(subscription.NewFileStore(path))
	svc, err := NewService(reg, newFakeProvider(), Options{
		SendHour:     7,
		PollInterval: time.Hour,
		Clock:        &fakeClock{now: at(1, 12, 0)},
	}, time.Minute)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	ctx := context.Background()
	if err := svc.Start(ctx, resolveAll, resolveAll); err != nil {
		t.Fatalf("start: %v", err)
	}

	ok, _ := reg.IsSubscribed(subscription.Guild, 9, "Lyon")
	if !ok {
		t.Fatal("expected guild subscription to be loaded")
	}
	target, err := reg.GetTarget(subscription.Guild, 9, "Lyon")
	if err != nil || target.EntityID() != 900 {
		t.Fatalf("expected channel target 900, got %v (err %v)", target, err)
	}

	// A subscription added at runtime must survive the shutdown save.
	reg.Add(subscription.User, 2, &countingTarget{id: 2}, "Nice", "Europe/Paris")

	shutdownCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := svc.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	reloaded := subscription.NewRegistry(subscription.NewFileStore(path))
	if err := reloaded.Load(ctx, resolveAll, resolveAll); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if ok, _ := reloaded.IsSubscribed(subscription.User, 2, "Nice"); !ok {
		t.Fatal("expected runtime subscription to be saved on shutdown")
	}
}

func TestServiceStartWithoutSaveFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.json")
	reg := subscription.NewRegistry(subscription.NewFileStore(path))
	svc, err := NewService(reg, newFakeProvider(), Options{SendHour: 7, PollInterval: time.Hour}, 0)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	if err := svc.Start(context.Background(), resolveAll, resolveAll); err != nil {
		t.Fatalf("start: %v", err)
	}
	counts := reg.Count()
	if counts[subscription.User].Locations != 0 || counts[subscription.Guild].Locations != 0 {
		t.Fatalf("expected empty registry, got %+v", counts)
	}
	if err := svc.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestServiceStartFailsWithoutResolver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subscriptions.json")
	reg := subscription.NewRegistry(subscription.NewFileStore(path))
	svc, err := NewService(reg, newFakeProvider(), Options{SendHour: 7, PollInterval: time.Hour}, 0)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	err = svc.Start(context.Background(), resolveAll, nil)
	if err == nil || errors.Is(err, context.Canceled) {
		t.Fatalf("expected a resolver error, got %v", err)
	}
}
