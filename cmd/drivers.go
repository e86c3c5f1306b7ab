package cmd

// Capture adapters register themselves with the adapter package.
import (
	_ "github.com/sergev/floppyflux/greaseweazle"
	_ "github.com/sergev/floppyflux/kryoflux"
	_ "github.com/sergev/floppyflux/supercardpro"
)
