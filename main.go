package main

import (
	"github.com/AzielCF/az-restyle/cmd"
)

func main() {
	cmd.Execute()
}
