package main

import "github.com/toolchest/toolchest/cmd/toolchest/internal"

func main() {
	internal.Execute()
}
