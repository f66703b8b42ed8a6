// Command pickplace runs the pick-and-place coordinator.
package main

func main() {
	Execute()
}
