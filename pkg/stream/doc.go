// Package stream provides a single-slot publish/subscribe primitive.
//
// A [Value] holds the latest published value. New subscribers receive that
// value immediately (replay of one) and then every later value, in
// subscription order. Nothing older than the latest value is buffered.
//
// Basic usage:
//
//	v := stream.New[string]()
//	v.Publish("a")
//
//	stop := v.Subscribe(func(s string) { fmt.Println(s) }) // prints "a"
//	v.Publish("b")                                          // prints "b"
//	stop()
package stream
