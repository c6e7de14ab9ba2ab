// Command shmheapctl manages the shared memory objects used by shmheap.
package main

func main() {
	execute()
}
