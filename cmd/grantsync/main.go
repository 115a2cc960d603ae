package main

import (
	"os"

	"bizradar.kr/grantsync/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
