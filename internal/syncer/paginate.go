package syncer

import (
	"context"
	"errors"

	"github.com/persistorai/tenantwatch/internal/credential"
	"github.com/persistorai/tenantwatch/internal/resilience"
	"github.com/persistorai/tenantwatch/internal/upstream"
)

// maxPages guards against an upstream that keeps returning continuation links.
const maxPages = 1000

// errFatal wraps errors that must stop the whole run.
type errFatal struct{ err error }

func (e errFatal) Error() string { return e.err.Error() }
func (e errFatal) Unwrap() error { return e.err }

// isRunFatal reports errors after which no further upstream call for this
// tenant can succeed in this run.
func isRunFatal(err error) bool {
	return resilience.IsCircuitOpen(err) ||
		credential.IsCredentialError(err) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) && !isUpstream(err)
}

func isUpstream(err error) bool {
	var ue *upstream.UpstreamError
	return errors.As(err, &ue)
}

// paginate fetches pages starting at first, calling handle for each. Fetch
// failures end pagination because no continuation link is known; handle
// failures are recorded and pagination continues. Cancellation is checked
// before every page. It returns a non-nil error only for run-fatal failures,
// and reports whether every page was fetched and handled.
func paginate[P any](
	ctx context.Context,
	d Deps,
	cred *credential.Credential,
	scope string,
	first upstream.Request,
	next func(*P) string,
	handle func(context.Context, *P) (int, error),
	res *SyncResult,
) (bool, error) {
	req := first
	complete := true

	for page := 1; req.URL != ""; page++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		if page > maxPages {
			res.addPageError(scope, page, errors.New("page limit reached"))
			return false, nil
		}

		var p P
		if err := d.Upstream.Fetch(ctx, cred, req, &p); err != nil {
			if isRunFatal(err) {
				return false, err
			}

			res.addPageError(scope, page, err)

			return false, nil
		}

		n, err := handle(ctx, &p)
		if err != nil {
			var fatal errFatal
			if errors.As(err, &fatal) {
				return false, fatal.err
			}

			res.addPageError(scope, page, err)
			complete = false
		}

		res.RecordsProcessed += n
		req.URL = next(&p)
	}

	return complete, nil
}
