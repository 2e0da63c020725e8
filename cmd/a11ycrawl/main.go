package main

// main is the entry point for a11ycrawl.
func main() {
	Execute()
}
