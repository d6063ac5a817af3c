package members

import (
	"context"

	"github.com/platinummonkey/trellis/pkg/observability"
)

// StatusCounter counts members per status. *Store implements it.
type StatusCounter interface {
	CountByStatus(ctx context.Context) (map[Status]int, error)
}

// RefreshGauges publishes per-status member counts. Statuses with no
// members are reported as zero.
func RefreshGauges(ctx context.Context, counter StatusCounter, metrics *observability.Metrics) error {
	counts, err := counter.CountByStatus(ctx)
	if err != nil {
		return err
	}

	labels := make([]string, len(Statuses))
	byLabel := make(map[string]int, len(counts))
	for i, s := range Statuses {
		labels[i] = string(s)
		byLabel[string(s)] = counts[s]
	}
	metrics.SetMembersByStatus(labels, byLabel)
	return nil
}
