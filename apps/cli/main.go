// Command tilesplit splits one image into a grid of tiles.
//
// Usage:
//
//	tilesplit [flags] <image_path> <cols> <rows>
package main

import (
	"os"

	"github.com/PhantomInTheWire/tilesplit/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
