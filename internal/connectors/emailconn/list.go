package emailconn

import (
	"fmt"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

// listMessages returns messages from folder (default INBOX), newest
// first. When sinceUID > 0, every message with a UID strictly greater
// than sinceUID is returned and limit is ignored — this is the shape
// the poll loop needs. Otherwise the most recent limit messages are
// returned.
func listMessages(client *imapclient.Client, folder string, unseen bool, sinceUID uint32, limit int) ([]Envelope, error) {
	if folder == "" {
		folder = "INBOX"
	}
	if limit <= 0 {
		limit = 20
	}

	if _, err := client.Select(folder, nil).Wait(); err != nil {
		return nil, fmt.Errorf("select %s: %w", folder, err)
	}

	criteria := &imap.SearchCriteria{}
	if unseen {
		criteria.NotFlag = append(criteria.NotFlag, imap.FlagSeen)
	}
	if sinceUID > 0 {
		criteria.UID = []imap.UIDSet{{imap.UIDRange{Start: imap.UID(sinceUID + 1), Stop: 0}}}
	}

	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", folder, err)
	}

	allUIDs := searchData.AllUIDs()
	if len(allUIDs) == 0 {
		return nil, nil
	}

	recentUIDs := allUIDs
	if sinceUID == 0 {
		start := 0
		if len(allUIDs) > limit {
			start = len(allUIDs) - limit
		}
		recentUIDs = allUIDs[start:]
	}

	uidSet := imap.UIDSet{}
	for _, uid := range recentUIDs {
		uidSet.AddNum(uid)
	}

	return fetchEnvelopes(client, uidSet)
}

func fetchEnvelopes(client *imapclient.Client, uidSet imap.UIDSet) ([]Envelope, error) {
	fetchOpts := &imap.FetchOptions{UID: true, Envelope: true, Flags: true}
	fetchCmd := client.Fetch(uidSet, fetchOpts)

	var envelopes []Envelope
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		env, err := parseMessageData(msg)
		if err != nil {
			continue
		}
		envelopes = append(envelopes, env)
	}
	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("fetch envelopes: %w", err)
	}

	for i, j := 0, len(envelopes)-1; i < j; i, j = i+1, j-1 {
		envelopes[i], envelopes[j] = envelopes[j], envelopes[i]
	}
	return envelopes, nil
}

func parseMessageData(msg *imapclient.FetchMessageData) (Envelope, error) {
	var env Envelope
	for {
		item := msg.Next()
		if item == nil {
			break
		}
		switch data := item.(type) {
		case imapclient.FetchItemDataUID:
			env.UID = uint32(data.UID)
		case imapclient.FetchItemDataEnvelope:
			if data.Envelope != nil {
				env.Date = data.Envelope.Date
				env.Subject = data.Envelope.Subject
				if len(data.Envelope.From) > 0 {
					env.From = formatAddress(data.Envelope.From[0])
				}
			}
		}
	}
	if env.UID == 0 {
		return env, fmt.Errorf("message missing UID")
	}
	return env, nil
}

func formatAddress(addr imap.Address) string {
	email := addr.Addr()
	if addr.Name != "" {
		return fmt.Sprintf("%s <%s>", addr.Name, email)
	}
	return email
}
