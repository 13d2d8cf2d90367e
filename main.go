package main

import "github.com/siteforge-ops/siteforge-backend/cmd"

func main() {
	cmd.Init()
}
