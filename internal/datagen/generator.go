// Package datagen produces the synthetic e-commerce dataset the benchmark
// runs against: exposure events for one A/B test plus the order, event,
// page, and session streams metrics are defined over.
package datagen

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Options controls the size and shape of the generated dataset.
type Options struct {
	// Users is the number of simulated users
	Users int

	// Days is the simulation length in days
	Days int

	// Seed makes generation reproducible
	Seed int64
}

// DefaultOptions matches the standard benchmark corpus.
func DefaultOptions() Options {
	return Options{Users: 5000, Days: 120, Seed: 42}
}

// BaseDate is the first day of the simulation.
var BaseDate = time.Date(2021, 10, 1, 0, 0, 0, 0, time.UTC)

const experimentID = "checkout-layout"

var (
	browsers        = []weighted{{"Chrome", 0.65}, {"Safari", 0.20}, {"Firefox", 0.15}}
	countries       = []weighted{{"US", 0.50}, {"UK", 0.20}, {"CA", 0.15}, {"AU", 0.15}}
	eventNames      = []string{"Add to Cart", "Cart Loaded", "Wishlist", "Search"}
	variations      = []string{"0", "1", "2"}
	variationWeight = []float64{0.34, 0.33, 0.33}
	pagePaths       = []string{"/", "/products", "/cart", "/checkout", "/about"}
)

type weighted struct {
	value  string
	weight float64
}

// ExposureRow is one experiment exposure event.
type ExposureRow struct {
	UserID       string
	AnonymousID  string
	SessionID    string
	Browser      string
	Country      string
	Timestamp    time.Time
	ExperimentID string
	Variation    string
}

// OrderRow is one purchase. Amount is nil for roughly a tenth of orders.
type OrderRow struct {
	UserID      string
	AnonymousID string
	SessionID   string
	Browser     string
	Country     string
	Timestamp   time.Time
	Qty         int
	Amount      *float64
}

// EventRow is one named product event.
type EventRow struct {
	UserID      string
	AnonymousID string
	SessionID   string
	Browser     string
	Country     string
	Timestamp   time.Time
	EventName   string
	Value       int
}

// PageRow is one page view.
type PageRow struct {
	UserID      string
	AnonymousID string
	SessionID   string
	Browser     string
	Country     string
	Timestamp   time.Time
	Path        string
}

// SessionRow is one browsing session.
type SessionRow struct {
	UserID          string
	AnonymousID     string
	SessionID       string
	Browser         string
	Country         string
	Timestamp       time.Time
	Pages           int
	DurationSeconds int
}

// UserRow is one user's stable attributes.
type UserRow struct {
	UserID      string
	AnonymousID string
	Browser     string
	Country     string
}

// Dataset holds every generated table.
type Dataset struct {
	Exposures []ExposureRow
	Orders    []OrderRow
	Events    []EventRow
	Pages     []PageRow
	Sessions  []SessionRow
	Users     []UserRow
}

type simUser struct {
	userID       string
	anonymousID  string
	browser      string
	country      string
	variation    string
	firstDay     int
	activityRate float64
	purchaseRate float64
	eventRate    float64
}

// Generate simulates all users and returns the dataset.
func Generate(opts Options) *Dataset {
	rng := rand.New(rand.NewSource(opts.Seed))
	ds := &Dataset{}

	for i := 0; i < opts.Users; i++ {
		u := newSimUser(rng, i, opts)
		ds.Users = append(ds.Users, UserRow{
			UserID:      u.userID,
			AnonymousID: u.anonymousID,
			Browser:     u.browser,
			Country:     u.country,
		})
		simulate(rng, u, opts, ds)
	}
	return ds
}

func newSimUser(rng *rand.Rand, index int, opts Options) *simUser {
	firstDay := int(float64(index) / float64(opts.Users) * float64(opts.Days-30))
	if firstDay < 0 {
		firstDay = 0
	}
	if max := opts.Days - 10; firstDay > max {
		firstDay = max
	}
	return &simUser{
		userID:       fmt.Sprintf("u%06d", index),
		anonymousID:  fmt.Sprintf("%016x", rng.Uint64()),
		browser:      weightedChoice(rng, browsers),
		country:      weightedChoice(rng, countries),
		variation:    variations[weightedIndex(rng, variationWeight)],
		firstDay:     firstDay,
		activityRate: 0.1 + rng.Float64()*1.9,
		purchaseRate: 0.01 + rng.Float64()*0.14,
		eventRate:    0.2 + rng.Float64()*0.6,
	}
}

// simulate walks one user's days, emitting sessions with page views and a
// chance of events and orders. Exposure happens on the first session at
// least five days into the user's activity, with a small re-exposure rate
// afterwards.
func simulate(rng *rand.Rand, u *simUser, opts Options, ds *Dataset) {
	exposed := false
	sessionCount := 0

	for day := u.firstDay; day < opts.Days; day++ {
		numSessions := int(math.Max(0, rng.NormFloat64()*0.5+u.activityRate))

		for s := 0; s < numSessions; s++ {
			sessionCount++
			sessionID := fmt.Sprintf("%s_s%d", u.userID, sessionCount)
			ts := randomTimestamp(rng, day)

			pagesInSession := 1 + rng.Intn(5)
			for p := 0; p < pagesInSession; p++ {
				pageTS := ts.Add(time.Duration(p*(10+rng.Intn(111))) * time.Second)
				ds.Pages = append(ds.Pages, PageRow{
					UserID: u.userID, AnonymousID: u.anonymousID, SessionID: sessionID,
					Browser: u.browser, Country: u.country,
					Timestamp: pageTS, Path: pagePaths[rng.Intn(len(pagePaths))],
				})
			}

			ds.Sessions = append(ds.Sessions, SessionRow{
				UserID: u.userID, AnonymousID: u.anonymousID, SessionID: sessionID,
				Browser: u.browser, Country: u.country,
				Timestamp: ts, Pages: pagesInSession, DurationSeconds: 30 + rng.Intn(571),
			})

			if (!exposed && day >= u.firstDay+5) || (exposed && rng.Float64() < 0.05) {
				exposed = true
				ds.Exposures = append(ds.Exposures, ExposureRow{
					UserID: u.userID, AnonymousID: u.anonymousID, SessionID: sessionID,
					Browser: u.browser, Country: u.country,
					Timestamp: ts, ExperimentID: experimentID, Variation: u.variation,
				})
			}

			if rng.Float64() < u.eventRate {
				ds.Events = append(ds.Events, EventRow{
					UserID: u.userID, AnonymousID: u.anonymousID, SessionID: sessionID,
					Browser: u.browser, Country: u.country,
					Timestamp: ts.Add(time.Duration(5+rng.Intn(296)) * time.Second),
					EventName: eventNames[rng.Intn(len(eventNames))],
					Value:     1 + rng.Intn(10),
				})
			}

			if rng.Float64() < u.purchaseRate {
				order := OrderRow{
					UserID: u.userID, AnonymousID: u.anonymousID, SessionID: sessionID,
					Browser: u.browser, Country: u.country,
					Timestamp: ts.Add(time.Duration(60+rng.Intn(541)) * time.Second),
					Qty:       1 + weightedIndex(rng, []float64{50, 25, 15, 7, 3}),
				}
				if rng.Float64() < 0.9 {
					amounts := []float64{1, 2, 5, 10, 20, 50, 100}
					amount := amounts[weightedIndex(rng, []float64{10, 15, 25, 20, 15, 10, 5})]
					order.Amount = &amount
				}
				ds.Orders = append(ds.Orders, order)
			}
		}
	}
}

func randomTimestamp(rng *rand.Rand, dayOffset int) time.Time {
	return BaseDate.AddDate(0, 0, dayOffset).Add(time.Duration(rng.Intn(86400)) * time.Second)
}

func weightedChoice(rng *rand.Rand, options []weighted) string {
	weights := make([]float64, len(options))
	for i, o := range options {
		weights[i] = o.weight
	}
	return options[weightedIndex(rng, weights)].value
}

func weightedIndex(rng *rand.Rand, weights []float64) int {
	var total float64
	for _, w := range weights {
		total += w
	}
	r := rng.Float64() * total
	for i, w := range weights {
		r -= w
		if r < 0 {
			return i
		}
	}
	return len(weights) - 1
}
