// Package main is the entry point for the extractor binary.
package main

import (
	"github.com/shopharvest/crawler/cmd"
)

func main() {
	cmd.Execute()
}
