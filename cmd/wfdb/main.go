package main

import "github.com/windfall-tech/wfdb/internal/wfdb"

func main() {
	wfdb.Main()
}
