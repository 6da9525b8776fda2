package main

import (
	"fmt"
	"os"

	"github.com/xswaplabs/xswap/swapd"
)

func main() {
	err := swapd.Run()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
