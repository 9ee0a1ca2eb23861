package main

import "github.com/stoik/mailroom/services/sync-service/internal/app"

func main() {
	app.Execute()
}
