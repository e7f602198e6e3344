package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MightySuz/community-library-project-sub000/config"
	copyrepo "github.com/MightySuz/community-library-project-sub000/repository/copy"
	feeschedulerepo "github.com/MightySuz/community-library-project-sub000/repository/feeschedule"
	gatewayrepo "github.com/MightySuz/community-library-project-sub000/repository/gateway"
	rentalrepo "github.com/MightySuz/community-library-project-sub000/repository/rental"
	walletrepo "github.com/MightySuz/community-library-project-sub000/repository/wallet"
	availsvc "github.com/MightySuz/community-library-project-sub000/service/availability"
	notifysvc "github.com/MightySuz/community-library-project-sub000/service/notify"
	rentalsvc "github.com/MightySuz/community-library-project-sub000/service/rental"
	topupsvc "github.com/MightySuz/community-library-project-sub000/service/topup"
	walletsvc "github.com/MightySuz/community-library-project-sub000/service/wallet"
	"github.com/MightySuz/community-library-project-sub000/util/database"
)

// The binary runs the periodic maintenance loop of the rental core:
// accrue late fees on past-due rentals, release expired holds, and fail
// top-ups whose invoices lapsed unpaid.
func main() {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	db, err := database.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rr := rentalrepo.New(db)
	cr := copyrepo.New(db)
	sr := feeschedulerepo.New(db)
	tr := walletrepo.NewTopup(db)
	gw := gatewayrepo.NewHTTP(cfg.GatewayBaseURL, cfg.GatewayAPIKey)

	events := notifysvc.NewDispatcher(log, cfg.EventBuffer)
	defer events.Close()
	events.Subscribe(func(e notifysvc.Event) {
		log.Info("rental transition",
			"rental_id", e.RentalID, "from", e.FromState, "to", e.ToState)
	})

	sweeper := rentalsvc.NewSweeper(db, rr, availsvc.New(cr), sr, events, log)
	topups := topupsvc.New(db, tr, walletsvc.New(db, walletrepo.New(db)), gw, cfg.TopupExpirySec)

	log.Info("sweep daemon started", "interval", cfg.SweepInterval.String(), "env", cfg.Env)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	runOnce(ctx, log, sweeper, topups)
	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			return
		case <-ticker.C:
			runOnce(ctx, log, sweeper, topups)
		}
	}
}

func runOnce(ctx context.Context, log *slog.Logger, s rentalsvc.Sweeper, topups topupsvc.Service) {
	swept, err := s.SweepOverdue(ctx)
	if err != nil {
		log.Error("overdue sweep failed", "err", err)
	}
	released, err := s.ReleaseExpiredHolds(ctx)
	if err != nil {
		log.Error("hold release failed", "err", err)
	}
	expired, err := topups.ExpireStale(ctx)
	if err != nil {
		log.Error("topup expiry failed", "err", err)
	}
	log.Info("sweep cycle done", "overdue", swept, "holds_released", released, "topups_expired", expired)
}
