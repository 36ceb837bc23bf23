//go:build !linux

package jobs

import (
	"context"
	"fmt"
)

func (t *UnitTask) run(context.Context) error {
	return fmt.Errorf("%s %s: %w", t.action, t.unit, ErrUnitUnsupported)
}
