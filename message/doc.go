// Package message defines the envelope that moves between PipeRT components.
//
// A Message carries an opaque payload together with a provenance trail: the
// ordered list of components it passed through, each with millisecond entry
// and exit timestamps. Routines use the trail (and IsEmpty) to decide whether
// to act on a message without inspecting the payload itself.
//
// Typical flow inside a component:
//
//	data, _ := handler.Receive(ctx, "camera:0")
//	msg, err := message.Decode(data)
//	if err != nil {
//		return routine.Idle, err
//	}
//	msg.RecordEntry(st.Component(), st.Logger())
//	msg.UpdatePayload(process(msg.Payload()))
//	msg.RecordExit(st.Component(), st.Logger())
//	out, _ := message.Encode(msg)
//
// Messages are handed from routine to routine through queues and are not
// safe for concurrent use; only the routine currently holding a message may
// modify it.
//
// Wire format is MessagePack (github.com/vmihailenco/msgpack/v5).
package message
