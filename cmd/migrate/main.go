package main

import "carrent-backend/cmd/migrate/command"

func main() {
	command.Execute()
}
