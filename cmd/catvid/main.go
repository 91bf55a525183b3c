// Command catvid trains and serves the cat vocalization context classifier.
package main

func main() {
	Execute()
}
