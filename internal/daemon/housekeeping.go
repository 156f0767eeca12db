package daemon

import (
	"log"
	"sync"
	"time"

	"github.com/reviewbot-dev/reviewbot/internal/billing"
	"github.com/reviewbot-dev/reviewbot/internal/storage"
)

// Retention policy for retired jobs.
const (
	completedJobTTL  = 24 * time.Hour
	completedJobKeep = 1000
	failedJobTTL     = 7 * 24 * time.Hour

	housekeepingInterval = time.Hour
)

// Housekeeper runs periodic maintenance: pruning retired jobs and
// releasing seats when the billing month rolls over.
type Housekeeper struct {
	db    *storage.DB
	seats *billing.Seats

	stopCh    chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup

	// Overridable in tests.
	interval time.Duration
	now      func() time.Time
}

func NewHousekeeper(db *storage.DB, seats *billing.Seats) *Housekeeper {
	return &Housekeeper{
		db:       db,
		seats:    seats,
		stopCh:   make(chan struct{}),
		interval: housekeepingInterval,
		now:      time.Now,
	}
}

func (h *Housekeeper) Start() {
	h.startOnce.Do(func() {
		h.wg.Add(1)
		go h.run()
	})
}

func (h *Housekeeper) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
		h.wg.Wait()
	})
}

func (h *Housekeeper) run() {
	defer h.wg.Done()

	lastMonth := billing.MonthOf(h.now())
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
		}

		h.Sweep(&lastMonth)
	}
}

// Sweep performs one maintenance pass. lastMonth tracks the billing
// month observed on the previous pass so the month rollover fires once.
func (h *Housekeeper) Sweep(lastMonth *string) {
	if removed, err := h.db.PruneJobs(completedJobTTL, completedJobKeep, failedJobTTL); err != nil {
		log.Printf("Housekeeping: prune jobs: %v", err)
	} else if removed > 0 {
		log.Printf("Housekeeping: pruned %d retired jobs", removed)
	}

	month := billing.MonthOf(h.now())
	if month != *lastMonth {
		released, err := h.seats.ResetMonthlySeats(*lastMonth)
		if err != nil {
			log.Printf("Housekeeping: reset seats for %s: %v", *lastMonth, err)
			return
		}
		log.Printf("Housekeeping: month rolled over to %s, released %d seats from %s", month, released, *lastMonth)
		*lastMonth = month
	}
}
