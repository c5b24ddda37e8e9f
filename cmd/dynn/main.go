// Package main provides the DyNN command line interface.
package main

func main() {
	Execute()
}
