package main

import "gift-journal-backend/cmd"

func main() {
	cmd.Run()
}
