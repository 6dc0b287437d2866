// Command livedb reads, writes, watches and serves a live data store.
package main

import "github.com/mesh-intelligence/livedb/internal/cli"

func main() {
	cli.Execute()
}
