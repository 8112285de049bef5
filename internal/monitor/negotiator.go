package monitor

import (
	"context"
	"log/slog"
	"strings"
)

// DefaultInputCandidates are tried in order when looking for the postal code input.
var DefaultInputCandidates = []string{
	"#GLUXZipUpdateInput",
	`input[id*="ZipUpdate"]`,
	`input[data-action*="GLUXPostal"]`,
	`.a-popover-modal input[type="text"]`,
}

// Negotiator drives a session until it displays the marketplace's delivery region.
type Negotiator struct {
	Candidates []string
	Logger     *slog.Logger
}

// NewNegotiator returns a negotiator using DefaultInputCandidates.
func NewNegotiator(logger *slog.Logger) *Negotiator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Negotiator{Candidates: DefaultInputCandidates, Logger: logger}
}

// Negotiate verifies the displayed location, submitting the postal code for up
// to maxRounds rounds. It returns whether the location was verified and the
// address text last displayed. Failed rounds are not rolled back. The error is
// non-nil only when ctx ends.
func (n *Negotiator) Negotiate(ctx context.Context, sess Session, loc Locale, maxRounds int) (bool, string, error) {
	address, err := sess.ReadDisplayedLocale(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false, "", ctx.Err()
		}
		n.Logger.Debug("read displayed location failed", "error", err)
	}
	if MatchesLocale(address, loc) {
		return true, address, nil
	}

	for round := 1; round <= maxRounds; round++ {
		if err := ctx.Err(); err != nil {
			return false, address, err
		}
		log := n.Logger.With("round", round)
		if err := n.submit(ctx, sess, loc); err != nil {
			if ctx.Err() != nil {
				return false, address, ctx.Err()
			}
			log.Warn("location round failed", "error", err)
			continue
		}

		current, err := sess.ReadDisplayedLocale(ctx)
		if err != nil {
			log.Warn("re-read location failed", "error", err)
			continue
		}
		address = current
		if MatchesLocale(address, loc) {
			log.Info("location verified", "address", address)
			return true, address, nil
		}
		log.Info("location mismatch", "address", address, "zipcode", loc.Zipcode)
	}

	if current, err := sess.ReadDisplayedLocale(ctx); err == nil {
		address = current
	}
	return false, address, nil
}

func (n *Negotiator) submit(ctx context.Context, sess Session, loc Locale) error {
	if err := sess.OpenLocalePicker(ctx); err != nil {
		return err
	}
	surface, err := sess.FindLocaleInput(ctx, n.Candidates)
	if err == nil && surface == "" {
		err = ErrNoInputSurface
	}
	if err != nil {
		_ = sess.DismissLocalePicker(ctx)
		return err
	}
	parts := loc.ZipParts
	if len(parts) == 0 {
		parts = []string{loc.Zipcode}
	}
	if err := sess.SubmitLocaleInput(ctx, surface, parts); err != nil {
		_ = sess.DismissLocalePicker(ctx)
		return err
	}
	if err := sess.DismissLocalePicker(ctx); err != nil {
		n.Logger.Debug("dismiss location picker failed", "error", err)
	}
	return nil
}

// MatchesLocale reports whether address names the expected region, either by
// one of its keywords (case-insensitive) or by the literal postal code.
func MatchesLocale(address string, loc Locale) bool {
	address = strings.TrimSpace(address)
	if address == "" {
		return false
	}
	if loc.Zipcode != "" && strings.Contains(address, loc.Zipcode) {
		return true
	}
	lower := strings.ToLower(address)
	for _, kw := range loc.Keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
