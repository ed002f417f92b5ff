package main

import "github.com/weaviate/pose-descriptors/cmd"

func main() {
	cmd.Execute()
}
