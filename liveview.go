// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package viewfanout

import "context"

// directLiveViewWriter is the default LiveViewWriter (spec §6: "Live view:
// static write_into(view, batch, context)"): it opens target's own sink for
// the duration of one batch and drives prefix/write/suffix/flush around it,
// since a live view has no persistent writer of its own between inserts —
// unlike a base table or a materialized view's insert sink, which the
// binder keeps open for the Fan-out Writer's whole lifetime.
type directLiveViewWriter struct{}

// NewDirectLiveViewWriter returns the default LiveViewWriter, suitable for
// any TableHandle whose Write opens a fresh Sink per call.
func NewDirectLiveViewWriter() LiveViewWriter { return directLiveViewWriter{} }

func (directLiveViewWriter) WriteIntoLiveView(ctx context.Context, target TableHandle, b Batch) error {
	sink, err := target.Write(ctx, "", target.MetadataSnapshot(), ctx)
	if err != nil {
		return err
	}
	if err := sink.Prefix(ctx); err != nil {
		return err
	}
	if err := sink.Write(ctx, b); err != nil {
		return err
	}
	if err := sink.Suffix(ctx); err != nil {
		return err
	}
	return sink.Flush(ctx)
}
