package adapter

import (
	"fmt"

	"github.com/sergev/floppyflux/flux"
	"github.com/sergev/floppyflux/geom"
)

// ReadDisk captures every track of a disk in cylinder, head order and
// hands each one to store.
func ReadDisk(a FloppyAdapter, cyls, heads, revs int, store func(geom.Ch, []flux.Capture) error) error {
	for cyl := 0; cyl < cyls; cyl++ {
		for head := 0; head < heads; head++ {
			ch := geom.Ch{Cyl: uint16(cyl), Head: uint8(head)}
			fmt.Printf("\rReading track %d, side %d...", cyl, head)
			captures, err := a.ReadTrack(ch, revs)
			if err != nil {
				return fmt.Errorf("failed to read cylinder %d, head %d: %w", cyl, head, err)
			}
			if len(captures) == 0 {
				return fmt.Errorf("no index pulses on cylinder %d, head %d", cyl, head)
			}
			if err := store(ch, captures); err != nil {
				return err
			}
		}
	}
	fmt.Printf("\nRead complete.\n")
	return nil
}
