package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newApp(nil).Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}
