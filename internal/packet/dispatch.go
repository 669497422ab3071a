package packet

// DecodeRoutingLayerMessage classifies and decodes one routing-layer
// frame (control or data) by its leading flags byte, the dispatch
// point a circuit's frame receiver uses to avoid hand-rolling the
// control/data distinction at every call site.
func DecodeRoutingLayerMessage(b []byte) (interface{}, error) {
	if len(b) < 1 {
		return nil, MissingData{Field: "flags", Want: 1, Got: 0}
	}
	if b[0] == phase2Msgflag {
		if ni, err := DecodeNodeInit(newReader(b[1:])); err == nil {
			return ni, nil
		}
		if nv, _, err := DecodeNodeVerify(b); err == nil {
			return nv, nil
		}
		return nil, WrongValue{Field: "flags", Want: phase2Msgflag, Got: b[0]}
	}

	if ctrl, isControl := decodeControlFlags(b[0]); isControl {
		switch ctrl {
		case CtrlInit:
			any, _, err := DecodeInit(b)
			return any, err
		case CtrlVerify:
			v, _, err := DecodePtpVerify(b)
			return v, err
		case CtrlTest:
			h, _, err := DecodePtpHello(b)
			return h, err
		case CtrlL1Routing, CtrlL2Routing:
			msg, _, err := DecodeRoutingMessage(b)
			return msg, err
		case CtrlRouterHello:
			h, _, err := DecodeRouterHello(b)
			return h, err
		case CtrlEndnodeHello:
			h, _, err := DecodeEndnodeHello(b)
			return h, err
		default:
			return nil, InvalidTag{Tag: byte(ctrl)}
		}
	}

	if fmt, _, _, _ := decodeDataFlags(b[0]); true {
		switch fmt {
		case FmtShortData:
			sd, _, err := DecodeShortData(b)
			return sd, err
		case FmtLongData:
			ld, _, err := DecodeLongData(b)
			return ld, err
		default:
			return nil, InvalidTag{Tag: byte(fmt)}
		}
	}
	return nil, InvalidTag{Tag: b[0]}
}
