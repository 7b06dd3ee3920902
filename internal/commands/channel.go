package commands

import (
	"fmt"
	"io"

	"chatsync/internal/channels"
)

// Channel prints the channel name of topic for args.
func Channel(out io.Writer, topic string, args []string) error {
	name, err := channels.Default().ChannelName(channels.TopicID(topic), args...)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, name)
	return err
}
