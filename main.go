package main

import (
	"os"

	"github.com/touchgrasshq/touchgrass/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
