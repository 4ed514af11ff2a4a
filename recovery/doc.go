// Package recovery salvages documents from damaged or legacy datafiles.
//
// OpenReader sniffs the file format and walks every page or record it
// can still parse, collecting damage as Fault values instead of failing.
// Rebuild drives a full repair: it streams everything the reader yields
// into a fresh datafile through the regular insert path and atomically
// swaps the fresh file in, keeping the original under a "-backup" suffix.
// Persisted pragmas carry over.
//
//	res, err := recovery.Rebuild(ctx, "data.db", func(o *recovery.Options) {
//		o.ReportFaults = true
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	log.Printf("recovered %d documents, %d faults", res.Documents, len(res.Faults))
//
// MarkInvalidState flags a file so it refuses to open until rebuilt,
// which is how a reader that trips over corruption hands the file to the
// repair pipeline.
package recovery
