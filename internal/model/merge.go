package model

import "go.uber.org/zap"

// MergeBySendID folds a batch of freshly fetched notifications into the
// held list, deduplicating on the send id. It returns the subset that was
// actually added as new entries.
//
// An incoming notification whose send id matches a held one is either
// dropped (same delivery id, exact duplicate) or absorbed into the held
// notification's duplicate identifier list. Read state only ever
// propagates forward: merging a read duplicate marks the held
// notification read, but merging an unread one never un-reads it.
func MergeBySendID(held *[]*Notification, incoming []*Notification, log *zap.Logger) []*Notification {
	added := make([]*Notification, 0, len(incoming))

	for _, in := range incoming {
		sendID := in.Identifiers.SendID
		if sendID == "" {
			continue
		}

		var dup *Notification
		for _, h := range *held {
			if h.Identifiers.SendID == sendID {
				dup = h
				break
			}
		}

		if dup == nil {
			*held = append(*held, in)
			added = append(added, in)
			continue
		}

		if dup.Deleted {
			log.Debug("received notification that was deleted locally",
				zap.String("notificationId", in.Identifiers.Identifier))
		}

		if in.Identifiers.Identifier == dup.Identifiers.Identifier {
			log.Debug("got the exact same notification twice, skipping",
				zap.String("notificationId", in.Identifiers.Identifier))
			continue
		}

		log.Debug("merging duplicate notifications",
			zap.String("sendId", sendID),
			zap.String("incoming", in.Identifiers.Identifier),
			zap.String("held", dup.Identifiers.Identifier))

		dup.AddDuplicateIdentifiers(in.Identifiers)
		if !in.Unread {
			dup.Unread = false
		}
	}

	return added
}
