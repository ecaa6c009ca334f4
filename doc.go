// Package flowbridge relays bookings from a car rental booking plugin to an
// automation webhook such as Zoho Flow.
//
// Each save or status transition of a booking record runs through an
// eligibility gate. Eligible bookings are mapped into a fixed-shape payload
// and POSTed with a bounded fixed-delay retry loop; the outcome is written
// back into the record's metadata so the same booking is not sent twice.
// Bookings saved before their details are filled in are re-checked after a
// short delay, at most twice, and dead-lettered after that.
//
// Key features:
//   - Data-driven field extraction with legacy key fallbacks
//   - Per-event settings read through to the store, with documented defaults
//   - Deduplicated deferred re-checks keyed by record id
//   - Dead letter queue with replay through the manual reprocess path
//   - Composable store pattern with multiple backends (Postgres, SQLite, MongoDB, Redis, Memory)
//
// Quick start:
//
//	b, err := flowbridge.New(
//	    flowbridge.WithStore(memory.New()),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	_ = b.Settings().Set(ctx, settings.WebhookURL, "https://flow.zoho.com/...")
//	b.Start(ctx)
//
//	res := b.HandleSaved(ctx, event.Saved{RecordID: 42, Record: rec})
//	if !res.Success {
//	    log.Printf("booking %d not sent: %s (%s)", res.RecordID, res.Error, res.Kind)
//	}
package flowbridge
