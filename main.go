package main

import (
	"cms-migrate/cmd"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

func main() {
	cmd.Execute()
}
